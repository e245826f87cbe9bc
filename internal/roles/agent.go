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

	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

const (
	// AgentFolderCount is the number of AI_Agent_<n> folders under the base dir.
	AgentFolderCount = 12

	// SimulationCooldown is how recently a simulation must have run, judged
	// by its `<script>.log` marker, to be skipped by idle discovery.
	SimulationCooldown = 12 * time.Hour
)

// AgentID returns the folder identifier for agent n (1-based).
func AgentID(n int) string { return fmt.Sprintf("AI_Agent_%d", n) }

type agentSimulations struct {
	deps    Deps
	folders []string // agent IDs in scan order

	mu sync.Mutex
	// queued remembers when idle discovery last enqueued a script, so a
	// simulation that never writes its marker is not re-queued every pass.
	queued map[string]time.Time
}

func newAgentSimulations(d Deps) worker.Behavior {
	a := &agentSimulations{deps: d, queued: make(map[string]time.Time)}
	for i := 1; i <= AgentFolderCount; i++ {
		a.folders = append(a.folders, AgentID(i))
	}
	return a
}

func (a *agentSimulations) Interval() time.Duration { return 100 * time.Millisecond }

func (a *agentSimulations) Handle(ctx context.Context, task model.Task) error {
	a.deps.Bridge.Begin(ctx, task.WorkflowID)
	defer a.deps.Bridge.Complete(ctx, task.WorkflowID)

	agentID := task.String(model.PayloadAgentID)
	script := task.String(model.PayloadScript)
	if agentID == "" || script == "" {
		a.deps.Logger.Info("task has no agent script, nothing to run", "task", task.Name)
		return nil
	}

	folder, ok := a.folder(agentID)
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	if _, err := os.Stat(folder); err != nil {
		return fmt.Errorf("agent folder %s: %w", folder, err)
	}
	path := filepath.Join(folder, script)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return runScript(ctx, a.deps, task.WorkflowID, path)
}

// Idle scans agent folders for simulation scripts whose marker is older than
// SimulationCooldown and enqueues at most one of them.
func (a *agentSimulations) Idle(ctx context.Context) error {
	now := a.deps.now()
	for _, id := range a.folders {
		folder, _ := a.folder(id)
		scripts, err := simulationScripts(folder)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("scan %s: %w", folder, err)
		}
		for _, script := range scripts {
			path := filepath.Join(folder, script)
			if !a.due(path, now) {
				continue
			}
			task := model.Task{
				Name: "Auto-simulation " + script,
				Payload: map[string]any{
					model.PayloadAgentID:  id,
					model.PayloadScript:   script,
					model.PayloadPriority: "normal",
				},
			}
			if _, ok := a.deps.Bridge.Submit(ctx, model.RoleAgentSimulations, task); ok {
				a.mu.Lock()
				a.queued[path] = now
				a.mu.Unlock()
			}
			return nil
		}
	}
	return nil
}

func (a *agentSimulations) folder(agentID string) (string, bool) {
	for _, id := range a.folders {
		if id == agentID {
			return filepath.Join(a.deps.BaseDir, id), true
		}
	}
	return "", false
}

// due reports whether the simulation at path has not run, or been queued,
// within SimulationCooldown.
func (a *agentSimulations) due(path string, now time.Time) bool {
	a.mu.Lock()
	last, ok := a.queued[path]
	a.mu.Unlock()
	if ok && now.Sub(last) <= SimulationCooldown {
		return false
	}
	info, err := os.Stat(path + ".log")
	if err != nil {
		return true
	}
	return now.Sub(info.ModTime()) > SimulationCooldown
}

// simulationScripts lists `*simulation*.py` files in dir in name order.
func simulationScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".py") {
			continue
		}
		if strings.Contains(strings.ToLower(name), "simulation") {
			out = append(out, name)
		}
	}
	return out, nil
}
