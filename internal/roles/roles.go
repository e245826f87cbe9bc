// Package roles implements the built-in role behaviours and the table that
// maps each role to its constructor.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/me/rolesched/internal/executor"
	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

// Bridge is the subset of the workflow lock bridge roles use.
type Bridge interface {
	Submit(ctx context.Context, role model.RoleID, task model.Task) (model.Task, bool)
	RunWithLock(ctx context.Context, role model.RoleID, workflowID, path string, body func() error) error
	Begin(ctx context.Context, workflowID string)
	Complete(ctx context.Context, workflowID string)
}

// SampleSource reports the most recent resource sample.
type SampleSource interface {
	Last() (model.ResourceSample, bool)
}

// Deps are the collaborators shared by every role.
type Deps struct {
	// Role is the role the behaviour runs as. New sets it.
	Role model.RoleID

	BaseDir string
	Bridge  Bridge
	Runner  executor.ScriptRunner
	Checker executor.Checker
	Samples SampleSource
	Logger  *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Constructor builds the behaviour for one role.
type Constructor func(Deps) worker.Behavior

// Registry maps every role to its constructor.
var Registry = map[model.RoleID]Constructor{
	model.RoleAgentSimulations:   newAgentSimulations,
	model.RoleScriptAssessment:   newScriptAssessment,
	model.RoleGUITesting:         newGUITesting,
	model.RoleProjectManagement:  newProjectManagement,
	model.RoleResourceManagement: newResourceManagement,
	model.RoleTaskManagement:     newTaskManagement,
}

// New returns the behaviour for role.
func New(role model.RoleID, deps Deps) (worker.Behavior, error) {
	ctor, ok := Registry[role]
	if !ok {
		return nil, fmt.Errorf("no behaviour registered for role %q", role)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Role = role
	deps.Logger = deps.Logger.With("component", "role", "role", role)
	return ctor(deps), nil
}

// runScript runs path under an advisory read lock held by the role for
// workflowID. A
// non-zero exit is returned as an error carrying stderr.
func runScript(ctx context.Context, d Deps, workflowID, path string) error {
	d.Logger.Info("running script", "script", path)
	return d.Bridge.RunWithLock(ctx, d.Role, workflowID, path, func() error {
		res, err := d.Runner.Run(ctx, path)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("script %s exited %d: %s", path, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		d.Logger.Info("script executed successfully", "script", path, "duration", res.Duration)
		return nil
	})
}

// resolve makes a task-supplied path absolute against the base directory.
func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
