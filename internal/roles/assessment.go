package roles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

const (
	// RecentWindow is how recently a source file must have changed to be
	// picked up by automated assessment.
	RecentWindow = 24 * time.Hour

	// MaxAutoAssessments caps the tasks one idle pass enqueues.
	MaxAutoAssessments = 3
)

// skipDirs are never descended into by automated assessment.
var skipDirs = map[string]bool{
	"__pycache__": true,
	".git":        true,
	"Lib":         true,
	"Scripts":     true,
}

type scriptAssessment struct {
	deps Deps

	mu sync.Mutex
	// assessed maps a path to the modification time it was queued at, so an
	// unchanged file is queued once.
	assessed map[string]time.Time
}

func newScriptAssessment(d Deps) worker.Behavior {
	return &scriptAssessment{deps: d, assessed: make(map[string]time.Time)}
}

func (s *scriptAssessment) Interval() time.Duration { return 15 * time.Second }

// Handle syntax-checks the task's script_path. A script with syntax errors
// is logged; only failure to run the check is an error.
func (s *scriptAssessment) Handle(ctx context.Context, task model.Task) error {
	p := task.String(model.PayloadScriptPath)
	if p == "" {
		s.deps.Logger.Info("task has no script path, nothing to assess", "task", task.Name)
		return nil
	}
	path := resolve(s.deps.BaseDir, p)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	s.deps.Logger.Info("assessing script", "script", path, "size", humanize.Bytes(uint64(info.Size())))

	res, err := s.deps.Checker.Check(ctx, path)
	if err != nil {
		return err
	}
	if !res.OK() {
		s.deps.Logger.Warn("script has syntax errors", "script", path, "stderr", strings.TrimSpace(res.Stderr))
		return nil
	}
	s.deps.Logger.Info("script syntax is valid", "script", path)
	return nil
}

// Idle queues up to MaxAutoAssessments recently modified .py files.
func (s *scriptAssessment) Idle(ctx context.Context) error {
	now := s.deps.now()
	var picked []string
	mtimes := make(map[string]time.Time)

	err := filepath.WalkDir(s.deps.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mod := info.ModTime()
		if now.Sub(mod) >= RecentWindow || s.alreadyQueued(path, mod) {
			return nil
		}
		picked = append(picked, path)
		mtimes[path] = mod
		if len(picked) == MaxAutoAssessments {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.deps.BaseDir, err)
	}

	for _, path := range picked {
		task := model.Task{
			Name: "Auto-assess " + filepath.Base(path),
			Payload: map[string]any{
				model.PayloadScriptPath: path,
				model.PayloadPriority:   "low",
			},
		}
		if _, ok := s.deps.Bridge.Submit(ctx, model.RoleScriptAssessment, task); ok {
			s.mu.Lock()
			s.assessed[path] = mtimes[path]
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *scriptAssessment) alreadyQueued(path string, mod time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.assessed[path]
	return ok && prev.Equal(mod)
}
