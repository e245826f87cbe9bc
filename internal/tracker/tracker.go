// Package tracker records which role is using which file.
//
// Locks are advisory: nothing stops a role from touching a file it could
// not lock. Every call reports success as a bool and never returns an error,
// so callers can treat a broken tracker like a denied request.
package tracker

import (
	"context"

	"github.com/me/rolesched/pkg/model"
)

// Tracker is the boundary between the scheduler and the file usage tracker.
type Tracker interface {
	// RequestLock asks for an advisory lock on path. False means not granted.
	RequestLock(ctx context.Context, path string, role model.RoleID, mode model.LockMode, workflowID string) bool

	// ReleaseLock gives up role's hold on path.
	ReleaseLock(ctx context.Context, path string, role model.RoleID) bool

	// RegisterWorkflow records a workflow and the files it expects to use.
	RegisterWorkflow(ctx context.Context, id string, role model.RoleID, files []string, priority int) bool

	// UpdateWorkflowStatus moves a workflow to a new state.
	UpdateWorkflowStatus(ctx context.Context, id string, state model.WorkflowState) bool

	// CompleteWorkflow marks a workflow completed and drops its locks.
	CompleteWorkflow(ctx context.Context, id string) bool
}

// Inspector exposes tracker state for status endpoints.
type Inspector interface {
	Locks(ctx context.Context) ([]model.FileLock, error)
	ActiveWorkflows(ctx context.Context) ([]model.Workflow, error)
}

// Noop grants every request and records nothing. It is used when file
// tracking is disabled.
type Noop struct{}

func (Noop) RequestLock(context.Context, string, model.RoleID, model.LockMode, string) bool {
	return true
}

func (Noop) ReleaseLock(context.Context, string, model.RoleID) bool { return true }

func (Noop) RegisterWorkflow(context.Context, string, model.RoleID, []string, int) bool {
	return true
}

func (Noop) UpdateWorkflowStatus(context.Context, string, model.WorkflowState) bool { return true }

func (Noop) CompleteWorkflow(context.Context, string) bool { return true }
