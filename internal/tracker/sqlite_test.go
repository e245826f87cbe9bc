package tracker

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/rolesched/pkg/model"
)

func testTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	tr, err := NewSQLiteTracker(":memory:", logger)
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	if err := tr.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func lockFor(t *testing.T, tr *SQLiteTracker, path string) *model.FileLock {
	t.Helper()
	locks, err := tr.Locks(context.Background())
	if err != nil {
		t.Fatalf("Locks: %v", err)
	}
	for i := range locks {
		if locks[i].Path == path {
			return &locks[i]
		}
	}
	return nil
}

func TestRequestLock_FreePath(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	if !tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "") {
		t.Fatal("lock on free path denied")
	}
	l := lockFor(t, tr, "a.py")
	if l == nil {
		t.Fatal("lock not recorded")
	}
	if l.LockedBy != model.RoleScriptAssessment || l.Mode != model.LockWrite {
		t.Errorf("lock = %+v", l)
	}
	if l.ExpectedDuration != DefaultExpectedDuration {
		t.Errorf("ExpectedDuration = %d, want %d", l.ExpectedDuration, DefaultExpectedDuration)
	}
}

func TestRequestLock_SharedReaders(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	if !tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockRead, "") {
		t.Fatal("first read denied")
	}
	if !tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockRead, "") {
		t.Fatal("second read denied")
	}
	l := lockFor(t, tr, "a.py")
	if len(l.Readers) != 2 {
		t.Fatalf("Readers = %v, want 2 entries", l.Readers)
	}

	if tr.RequestLock(ctx, "a.py", model.RoleTaskManagement, model.LockWrite, "") {
		t.Error("write granted over shared read lock")
	}

	if !tr.ReleaseLock(ctx, "a.py", model.RoleScriptAssessment) {
		t.Fatal("release by reader failed")
	}
	if l := lockFor(t, tr, "a.py"); l == nil || len(l.Readers) != 1 {
		t.Fatalf("after first release lock = %+v", l)
	}
	if tr.ReleaseLock(ctx, "a.py", model.RoleTaskManagement) {
		t.Error("release by non-reader succeeded")
	}
	if !tr.ReleaseLock(ctx, "a.py", model.RoleGUITesting) {
		t.Fatal("release by last reader failed")
	}
	if l := lockFor(t, tr, "a.py"); l != nil {
		t.Errorf("lock still present after last reader left: %+v", l)
	}
}

func TestRequestLock_WriteConflict(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "")
	if tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockRead, "") {
		t.Error("read granted over write lock")
	}
	if tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockWrite, "") {
		t.Error("write granted over write lock")
	}
}

func TestRequestLock_SameRoleRefreshes(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "")

	tr.now = func() time.Time { return base.Add(10 * time.Second) }
	if !tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "") {
		t.Fatal("holder re-request denied")
	}
	l := lockFor(t, tr, "a.py")
	if want := base.Add(10 * time.Second).Format(time.RFC3339Nano); l.Timestamp != want {
		t.Errorf("Timestamp = %s, want %s", l.Timestamp, want)
	}
}

func TestRequestLock_Preemption(t *testing.T) {
	tests := []struct {
		name         string
		holderPrio   int
		requestPrio  int
		requesterWF  bool
		wantGranted  bool
		wantLockedBy model.RoleID
	}{
		{"beats margin", 1, 4, true, true, model.RoleGUITesting},
		{"equals margin", 1, 3, true, false, model.RoleScriptAssessment},
		{"no requester workflow", 1, 9, false, false, model.RoleScriptAssessment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := testTracker(t)
			ctx := context.Background()

			tr.RegisterWorkflow(ctx, "wf-holder", model.RoleScriptAssessment, []string{"a.py"}, tt.holderPrio)
			tr.RegisterWorkflow(ctx, "wf-req", model.RoleGUITesting, []string{"a.py"}, tt.requestPrio)
			tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "wf-holder")

			wf := ""
			if tt.requesterWF {
				wf = "wf-req"
			}
			if got := tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockWrite, wf); got != tt.wantGranted {
				t.Fatalf("RequestLock = %v, want %v", got, tt.wantGranted)
			}
			if l := lockFor(t, tr, "a.py"); l.LockedBy != tt.wantLockedBy {
				t.Errorf("LockedBy = %s, want %s", l.LockedBy, tt.wantLockedBy)
			}
		})
	}
}

func TestRequestLock_StaleLockCleared(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "")

	// Within expected duration plus grace the lock holds.
	tr.now = func() time.Time { return base.Add(90 * time.Second) }
	if tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockWrite, "") {
		t.Fatal("lock taken before it went stale")
	}

	tr.now = func() time.Time { return base.Add(91 * time.Second) }
	if !tr.RequestLock(ctx, "a.py", model.RoleGUITesting, model.LockWrite, "") {
		t.Fatal("stale lock not cleared")
	}
	if l := lockFor(t, tr, "a.py"); l.LockedBy != model.RoleGUITesting {
		t.Errorf("LockedBy = %s, want gui_testing", l.LockedBy)
	}
}

func TestReleaseLock_OwnerOnly(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	if tr.ReleaseLock(ctx, "a.py", model.RoleScriptAssessment) {
		t.Error("release of unlocked path succeeded")
	}
	tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "")
	if tr.ReleaseLock(ctx, "a.py", model.RoleGUITesting) {
		t.Error("release by non-owner succeeded")
	}
	if !tr.ReleaseLock(ctx, "a.py", model.RoleScriptAssessment) {
		t.Error("release by owner failed")
	}
	if l := lockFor(t, tr, "a.py"); l != nil {
		t.Errorf("lock still present: %+v", l)
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	if !tr.RegisterWorkflow(ctx, "wf-1", model.RoleScriptAssessment, []string{"a.py", "b.py"}, 5) {
		t.Fatal("register failed")
	}
	if tr.RegisterWorkflow(ctx, "wf-1", model.RoleScriptAssessment, nil, 5) {
		t.Error("duplicate register succeeded")
	}
	if !tr.UpdateWorkflowStatus(ctx, "wf-1", model.WorkflowStateInProgress) {
		t.Error("update failed")
	}
	if tr.UpdateWorkflowStatus(ctx, "missing", model.WorkflowStateInProgress) {
		t.Error("update of unknown workflow succeeded")
	}

	active, err := tr.ActiveWorkflows(ctx)
	if err != nil {
		t.Fatalf("ActiveWorkflows: %v", err)
	}
	if len(active) != 1 || active[0].State != model.WorkflowStateInProgress || len(active[0].AnticipatedFiles) != 2 {
		t.Fatalf("ActiveWorkflows = %+v", active)
	}

	tr.RequestLock(ctx, "a.py", model.RoleScriptAssessment, model.LockWrite, "wf-1")
	tr.RequestLock(ctx, "b.py", model.RoleScriptAssessment, model.LockRead, "wf-1")
	tr.RequestLock(ctx, "c.py", model.RoleGUITesting, model.LockWrite, "")

	if !tr.CompleteWorkflow(ctx, "wf-1") {
		t.Fatal("complete failed")
	}
	locks, _ := tr.Locks(ctx)
	if len(locks) != 1 || locks[0].Path != "c.py" {
		t.Errorf("locks after complete = %+v, want only c.py", locks)
	}
	active, _ = tr.ActiveWorkflows(ctx)
	if len(active) != 0 {
		t.Errorf("completed workflow still active: %+v", active)
	}
	if tr.CompleteWorkflow(ctx, "missing") {
		t.Error("complete of unknown workflow succeeded")
	}
}

func TestNoop(t *testing.T) {
	var tr Tracker = Noop{}
	ctx := context.Background()
	if !tr.RequestLock(ctx, "a", model.RoleGUITesting, model.LockWrite, "") || !tr.ReleaseLock(ctx, "a", model.RoleGUITesting) {
		t.Error("Noop denied a request")
	}
}
