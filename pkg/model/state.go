package model

// Action is the scheduling change made by one controller tick.
type Action string

const (
	ActionNone      Action = "none"
	ActionScaleUp   Action = "scale_up"
	ActionScaleBack Action = "scale_back"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision records what a tick observed and what it did.
// Role is empty when Action is ActionNone.
type Decision struct {
	Action Action         `json:"action"`
	Role   RoleID         `json:"role,omitempty"`
	Sample ResourceSample `json:"sample"`
	Reason string         `json:"reason,omitempty"`

	// Forced is set on a scale back whose worker did not confirm exit within
	// the stop timeout. The role was marked inactive anyway.
	Forced bool `json:"forced,omitempty"`
}

// WorkflowState represents the lifecycle state of a tracked workflow.
type WorkflowState string

const (
	WorkflowStateRegistered WorkflowState = "registered"
	WorkflowStateInProgress WorkflowState = "in_progress"
	WorkflowStateCompleted  WorkflowState = "completed"
	WorkflowStateFailed     WorkflowState = "failed"
)

// String returns the string representation of the workflow state.
func (s WorkflowState) String() string {
	return string(s)
}

// IsActive returns true for workflows that have not finished.
func (s WorkflowState) IsActive() bool {
	return s == WorkflowStateRegistered || s == WorkflowStateInProgress
}

// ValidWorkflowTransitions defines the allowed state transitions for workflows.
var ValidWorkflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowStateRegistered: {WorkflowStateInProgress, WorkflowStateCompleted, WorkflowStateFailed},
	WorkflowStateInProgress: {WorkflowStateCompleted, WorkflowStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkflowState) CanTransitionTo(next WorkflowState) bool {
	for _, allowed := range ValidWorkflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LockMode is the kind of access an advisory file lock covers.
type LockMode string

const (
	LockRead  LockMode = "read"
	LockWrite LockMode = "write"
)

// FileLock describes one advisory lock held in the file tracker.
type FileLock struct {
	Path             string   `json:"path"`
	LockedBy         RoleID   `json:"locked_by"`
	Mode             LockMode `json:"mode"`
	WorkflowID       string   `json:"workflow_id,omitempty"`
	Readers          []RoleID `json:"readers,omitempty"`
	ExpectedDuration int      `json:"expected_duration"`
	ProcessID        int      `json:"process_id"`
	Timestamp        string   `json:"timestamp"`
}

// Workflow is a tracker registration correlating a task with its files.
type Workflow struct {
	ID               string        `json:"id"`
	Role             RoleID        `json:"role"`
	State            WorkflowState `json:"state"`
	Priority         int           `json:"priority"`
	AnticipatedFiles []string      `json:"anticipated_files"`
	StartTime        string        `json:"start_time"`
	UpdatedTime      string        `json:"updated_time,omitempty"`
	EndTime          string        `json:"end_time,omitempty"`
}
