package model

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    RoleID
		wantErr bool
	}{
		{"script_assessment", RoleScriptAssessment, false},
		{"script-assessment", RoleScriptAssessment, false},
		{"  GUI-Testing ", RoleGUITesting, false},
		{"resource_management", RoleResourceManagement, false},
		{"cooking", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllRoles_Valid(t *testing.T) {
	roles := AllRoles()
	if len(roles) != 6 {
		t.Fatalf("AllRoles() len = %d, want 6", len(roles))
	}
	for _, r := range roles {
		if !r.Valid() {
			t.Errorf("%q.Valid() = false", r)
		}
	}
	if RoleID("nope").Valid() {
		t.Error("unknown role reported valid")
	}
}

func TestWorkflowState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  WorkflowState
		to    WorkflowState
		valid bool
	}{
		{WorkflowStateRegistered, WorkflowStateInProgress, true},
		{WorkflowStateRegistered, WorkflowStateCompleted, true},
		{WorkflowStateInProgress, WorkflowStateCompleted, true},
		{WorkflowStateInProgress, WorkflowStateFailed, true},
		{WorkflowStateCompleted, WorkflowStateInProgress, false},
		{WorkflowStateFailed, WorkflowStateRegistered, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestTask_String(t *testing.T) {
	task := Task{Payload: map[string]any{PayloadScript: "run.py", "n": 3}}
	if got := task.String(PayloadScript); got != "run.py" {
		t.Errorf("String(script) = %q", got)
	}
	if got := task.String("n"); got != "" {
		t.Errorf("String(n) = %q, want empty for non-string", got)
	}
	var empty Task
	if got := empty.String(PayloadScript); got != "" {
		t.Errorf("nil payload String = %q", got)
	}
}
