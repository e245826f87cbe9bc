package model

import (
	"fmt"
	"strings"
	"time"
)

// RoleID identifies a category of background work.
type RoleID string

const (
	RoleResourceManagement RoleID = "resource_management"
	RoleProjectManagement  RoleID = "project_management"
	RoleTaskManagement     RoleID = "task_management"
	RoleAgentSimulations   RoleID = "agent_simulations"
	RoleScriptAssessment   RoleID = "script_assessment"
	RoleGUITesting         RoleID = "gui_testing"
)

// AllRoles returns every known role in catalog order.
// Catalog order breaks priority ties.
func AllRoles() []RoleID {
	return []RoleID{
		RoleResourceManagement,
		RoleProjectManagement,
		RoleTaskManagement,
		RoleAgentSimulations,
		RoleScriptAssessment,
		RoleGUITesting,
	}
}

// String returns the string representation of the role.
func (r RoleID) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r RoleID) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts user input to a RoleID. Both "script-assessment" and
// "script_assessment" are accepted.
func ParseRole(s string) (RoleID, error) {
	r := RoleID(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleStatus is a read-only snapshot of one role's runtime state.
type RoleStatus struct {
	Role            RoleID     `json:"role"`
	Priority        int        `json:"priority"`
	EstimatedCPU    float64    `json:"estimated_cpu"`
	EstimatedMemory float64    `json:"estimated_memory"`
	Active          bool       `json:"active"`
	StopRequested   bool       `json:"stop_requested"`
	QueueDepth      int        `json:"queue_depth"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
}
