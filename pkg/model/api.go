package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// SubmitRequest is the body of POST /api/v1/roles/{role}/tasks.
type SubmitRequest struct {
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Files      []string       `json:"files,omitempty"`
}

// SubmitResponse is returned after a task was enqueued.
type SubmitResponse struct {
	TaskID     string `json:"task_id"`
	Role       RoleID `json:"role"`
	WorkflowID string `json:"workflow_id,omitempty"`
}
