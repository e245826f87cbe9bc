package model

import (
	"time"
)

// Payload keys understood by the built-in roles.
const (
	PayloadScript     = "script"
	PayloadScriptPath = "script_path"
	PayloadAgentID    = "agent_id"
	PayloadPriority   = "priority"
)

// Task is one unit of work submitted to a role's queue.
// A task is dequeued by exactly one worker of its role and then discarded.
type Task struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`

	// Files lists paths the task expects to touch. They are registered with
	// the file tracker under WorkflowID at submission time.
	Files     []string  `json:"files,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// String returns the payload value for key, or "" when absent or not a string.
func (t *Task) String(key string) string {
	if t.Payload == nil {
		return ""
	}
	s, _ := t.Payload[key].(string)
	return s
}

// ResourceSample is a single measurement of host resource usage.
type ResourceSample struct {
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"memory_percent"`
	DiskPercent float64   `json:"disk_percent"`
	Timestamp   time.Time `json:"timestamp"`
}
