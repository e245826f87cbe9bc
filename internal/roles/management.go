package roles

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

// runTaskScript runs the task's script payload, resolved against the base
// directory, if there is one. Tasks without a script are acknowledged.
func runTaskScript(ctx context.Context, d Deps, task model.Task) error {
	script := task.String(model.PayloadScript)
	if script == "" {
		d.Logger.Info("task acknowledged", "task", task.Name)
		return nil
	}
	path := resolve(d.BaseDir, script)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	d.Bridge.Begin(ctx, task.WorkflowID)
	defer d.Bridge.Complete(ctx, task.WorkflowID)
	return runScript(ctx, d, task.WorkflowID, path)
}

type projectManagement struct{ deps Deps }

func newProjectManagement(d Deps) worker.Behavior { return &projectManagement{deps: d} }

func (p *projectManagement) Interval() time.Duration { return 5 * time.Second }

func (p *projectManagement) Handle(ctx context.Context, task model.Task) error {
	return runTaskScript(ctx, p.deps, task)
}

func (p *projectManagement) Idle(context.Context) error {
	p.deps.Logger.Debug("coordinating project activities")
	return nil
}

type resourceManagement struct{ deps Deps }

func newResourceManagement(d Deps) worker.Behavior { return &resourceManagement{deps: d} }

func (r *resourceManagement) Interval() time.Duration { return 10 * time.Second }

func (r *resourceManagement) Handle(ctx context.Context, task model.Task) error {
	return runTaskScript(ctx, r.deps, task)
}

// Idle reports the latest resource sample.
func (r *resourceManagement) Idle(context.Context) error {
	if r.deps.Samples == nil {
		return nil
	}
	s, ok := r.deps.Samples.Last()
	if !ok {
		r.deps.Logger.Debug("no resource sample yet")
		return nil
	}
	r.deps.Logger.Info("resource usage",
		"cpu_percent", s.CPUPercent,
		"memory_percent", s.MemPercent,
		"disk_percent", s.DiskPercent,
	)
	return nil
}

type taskManagement struct{ deps Deps }

func newTaskManagement(d Deps) worker.Behavior { return &taskManagement{deps: d} }

func (t *taskManagement) Interval() time.Duration { return 20 * time.Second }

func (t *taskManagement) Handle(ctx context.Context, task model.Task) error {
	return runTaskScript(ctx, t.deps, task)
}

func (t *taskManagement) Idle(context.Context) error {
	t.deps.Logger.Info("managing project tasks")
	return nil
}
