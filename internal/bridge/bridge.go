// Package bridge connects task submission and script execution to the file
// usage tracker.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/rolesched/internal/queue"
	"github.com/me/rolesched/internal/tracker"
	"github.com/me/rolesched/pkg/model"
)

// DefaultPriority is registered for roles the priority lookup does not know.
const DefaultPriority = 5

// unknownRole is recorded as the lock holder when neither the caller nor the
// workflow ID names a role.
const unknownRole model.RoleID = "unknown"

// Bridge enqueues tasks and wraps file access in advisory locks.
type Bridge struct {
	queues   *queue.Set
	tracker  tracker.Tracker
	priority func(model.RoleID) int
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Bridge. priority reports the current priority of a role; a
// nil tracker disables file tracking.
func New(queues *queue.Set, tr tracker.Tracker, priority func(model.RoleID) int, logger *slog.Logger) *Bridge {
	if tr == nil {
		tr = tracker.Noop{}
	}
	if priority == nil {
		priority = func(model.RoleID) int { return DefaultPriority }
	}
	return &Bridge{
		queues:   queues,
		tracker:  tr,
		priority: priority,
		logger:   logger.With("component", "bridge"),
		now:      time.Now,
	}
}

// Submit assigns task an ID and, when absent, a workflow ID, registers its
// declared files with the tracker, and appends it to role's queue. It returns
// the task as enqueued. Unknown roles are rejected.
func (b *Bridge) Submit(ctx context.Context, role model.RoleID, task model.Task) (model.Task, bool) {
	q, ok := b.queues.Get(role)
	if !ok {
		b.logger.Error("unknown role", "role", role, "task", task.Name)
		return task, false
	}

	if task.ID == "" {
		task.ID = "task_" + uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = b.now().UTC()
	}
	if task.WorkflowID == "" {
		task.WorkflowID = WorkflowID(role, task.Name, b.now())
		if len(task.Files) > 0 {
			prio := b.priority(role)
			if b.tracker.RegisterWorkflow(ctx, task.WorkflowID, role, task.Files, prio) {
				b.logger.Info("workflow registered",
					"workflow_id", task.WorkflowID, "files", len(task.Files), "priority", prio)
			}
		}
	}

	q.Enqueue(task)
	b.logger.Info("task queued", "role", role, "task", task.Name, "task_id", task.ID)
	return task, true
}

// RunWithLock runs body while role holds an advisory read lock on path for
// workflowID. An empty role falls back to the workflow ID prefix. A denied
// lock is logged and body runs anyway. The lock is released exactly once
// after body returns, even if it panics. Without a workflow ID no lock is
// taken.
func (b *Bridge) RunWithLock(ctx context.Context, role model.RoleID, workflowID, path string, body func() error) error {
	if workflowID == "" {
		return body()
	}

	if role == "" {
		var ok bool
		if role, ok = RoleFromWorkflowID(workflowID); !ok {
			role = unknownRole
		}
	}
	if !b.tracker.RequestLock(ctx, path, role, model.LockRead, workflowID) {
		b.logger.Warn("could not acquire file lock, it may be in use by another role",
			"path", path, "role", role, "workflow_id", workflowID)
	}
	defer func() {
		// Release even when ctx is already cancelled.
		b.tracker.ReleaseLock(context.WithoutCancel(ctx), path, role)
	}()

	return body()
}

// Begin marks workflowID in progress. Empty IDs are ignored.
func (b *Bridge) Begin(ctx context.Context, workflowID string) {
	if workflowID == "" {
		return
	}
	b.tracker.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowStateInProgress)
}

// Complete marks workflowID completed, dropping its locks. Empty IDs are
// ignored.
func (b *Bridge) Complete(ctx context.Context, workflowID string) {
	if workflowID == "" {
		return
	}
	b.tracker.CompleteWorkflow(context.WithoutCancel(ctx), workflowID)
}

// WorkflowID builds the `<role>_<unix seconds>_<name>` identifier used for
// tasks submitted without one. Spaces in name become underscores.
func WorkflowID(role model.RoleID, name string, at time.Time) string {
	if name == "" {
		name = "task"
	}
	return fmt.Sprintf("%s_%d_%s", role, at.Unix(), strings.ReplaceAll(name, " ", "_"))
}

// RoleFromWorkflowID recovers the role that prefixes a workflow ID. Role
// names contain underscores, so the match is against the known roles rather
// than the first separator.
func RoleFromWorkflowID(id string) (model.RoleID, bool) {
	for _, r := range model.AllRoles() {
		if strings.HasPrefix(id, string(r)+"_") {
			return r, true
		}
	}
	return "", false
}
