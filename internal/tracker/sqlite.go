package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/me/rolesched/pkg/model"

	_ "modernc.org/sqlite"
)

const (
	// DefaultExpectedDuration is how long, in seconds, a lock is expected
	// to be held when the caller does not say.
	DefaultExpectedDuration = 60

	// staleGrace is added to a lock's expected duration before the lock is
	// considered abandoned.
	staleGrace = 30 * time.Second

	// preemptMargin is how much higher a requester's workflow priority must
	// be than the holder's to take over a conflicting lock.
	preemptMargin = 2
)

// SQLiteTracker implements Tracker and Inspector on SQLite.
type SQLiteTracker struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serialises read-modify-write cycles on the lock table.
	mu  sync.Mutex
	now func() time.Time
	pid int
}

// NewSQLiteTracker opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteTracker(dbPath string, logger *slog.Logger) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteTracker{
		db:     db,
		logger: logger.With("component", "file-tracker"),
		now:    time.Now,
		pid:    os.Getpid(),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteTracker) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteTracker) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// RequestLock implements Tracker.
//
// A read request joins an existing read lock. A role that already holds the
// lock refreshes it. Otherwise a conflicting request is granted only when
// both sides carry workflow IDs and the requester's workflow priority beats
// the holder's by more than preemptMargin.
func (s *SQLiteTracker) RequestLock(ctx context.Context, path string, role model.RoleID, mode model.LockMode, workflowID string) bool {
	granted, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		if err := s.cleanupStale(ctx, tx); err != nil {
			return false, err
		}
		current, err := getLock(ctx, tx, path)
		if err != nil {
			return false, err
		}
		if current == nil {
			s.logger.Info("lock granted", "path", path, "role", role, "mode", mode)
			return true, s.putLock(ctx, tx, s.newLock(path, role, mode, workflowID))
		}

		if mode == model.LockRead && current.Mode == model.LockRead {
			if !slices.Contains(current.Readers, role) {
				current.Readers = append(current.Readers, role)
				if err := s.putLock(ctx, tx, current); err != nil {
					return false, err
				}
			}
			s.logger.Debug("shared read lock granted", "path", path, "role", role)
			return true, nil
		}

		if current.LockedBy == role {
			current.Timestamp = s.timestamp()
			if err := s.putLock(ctx, tx, current); err != nil {
				return false, err
			}
			s.logger.Debug("lock refreshed", "path", path, "role", role)
			return true, nil
		}

		if workflowID != "" && current.WorkflowID != "" {
			mine, err := workflowPriority(ctx, tx, workflowID)
			if err != nil {
				return false, err
			}
			theirs, err := workflowPriority(ctx, tx, current.WorkflowID)
			if err != nil {
				return false, err
			}
			if mine > theirs+preemptMargin {
				s.logger.Warn("lock preempted",
					"path", path, "role", role, "priority", mine,
					"holder", current.LockedBy, "holder_priority", theirs)
				return true, s.putLock(ctx, tx, s.newLock(path, role, mode, workflowID))
			}
		}

		s.logger.Warn("lock denied", "path", path, "role", role, "holder", current.LockedBy)
		return false, nil
	})
	if err != nil {
		s.logger.Error("request lock", "path", path, "role", role, "error", err)
		return false
	}
	return granted
}

// ReleaseLock implements Tracker.
func (s *SQLiteTracker) ReleaseLock(ctx context.Context, path string, role model.RoleID) bool {
	released, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		current, err := getLock(ctx, tx, path)
		if err != nil {
			return false, err
		}
		if current == nil {
			s.logger.Warn("cannot release lock: not locked", "path", path, "role", role)
			return false, nil
		}

		if current.Mode == model.LockRead && len(current.Readers) > 0 {
			i := slices.Index(current.Readers, role)
			if i < 0 {
				s.logger.Warn("cannot release lock: not a reader", "path", path, "role", role)
				return false, nil
			}
			current.Readers = slices.Delete(current.Readers, i, i+1)
			if len(current.Readers) == 0 {
				return true, deleteLock(ctx, tx, path)
			}
			return true, s.putLock(ctx, tx, current)
		}

		if current.LockedBy != role {
			s.logger.Warn("cannot release lock: not owner", "path", path, "role", role, "holder", current.LockedBy)
			return false, nil
		}
		s.logger.Info("lock released", "path", path, "role", role)
		return true, deleteLock(ctx, tx, path)
	})
	if err != nil {
		s.logger.Error("release lock", "path", path, "role", role, "error", err)
		return false
	}
	return released
}

// RegisterWorkflow implements Tracker. Registering an existing ID fails.
func (s *SQLiteTracker) RegisterWorkflow(ctx context.Context, id string, role model.RoleID, files []string, priority int) bool {
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		s.logger.Error("marshal anticipated files", "workflow_id", id, "error", err)
		return false
	}

	ok, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO workflows (id, role, state, priority, anticipated_files, start_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(role), string(model.WorkflowStateRegistered), priority, string(filesJSON), s.timestamp(),
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	})
	if err != nil {
		s.logger.Error("register workflow", "workflow_id", id, "error", err)
		return false
	}
	if !ok {
		s.logger.Warn("workflow already registered", "workflow_id", id)
		return false
	}
	s.logger.Info("workflow registered", "workflow_id", id, "role", role, "files", len(files))
	return true
}

// UpdateWorkflowStatus implements Tracker.
func (s *SQLiteTracker) UpdateWorkflowStatus(ctx context.Context, id string, state model.WorkflowState) bool {
	ok, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE workflows SET state = ?, updated_time = ? WHERE id = ?`,
			string(state), s.timestamp(), id,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	})
	if err != nil {
		s.logger.Error("update workflow", "workflow_id", id, "error", err)
		return false
	}
	if !ok {
		s.logger.Warn("cannot update workflow: not registered", "workflow_id", id)
		return false
	}
	s.logger.Debug("workflow updated", "workflow_id", id, "state", state)
	return true
}

// CompleteWorkflow implements Tracker.
func (s *SQLiteTracker) CompleteWorkflow(ctx context.Context, id string) bool {
	var dropped int64
	ok, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE workflows SET state = ?, updated_time = ?, end_time = ? WHERE id = ?`,
			string(model.WorkflowStateCompleted), now, now, id,
		)
		if err != nil {
			return false, err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return false, err
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM file_locks WHERE workflow_id = ?`, id)
		if err != nil {
			return false, err
		}
		dropped, err = res.RowsAffected()
		return true, err
	})
	if err != nil {
		s.logger.Error("complete workflow", "workflow_id", id, "error", err)
		return false
	}
	if !ok {
		s.logger.Warn("cannot complete workflow: not registered", "workflow_id", id)
		return false
	}
	s.logger.Info("workflow completed", "workflow_id", id, "locks_released", dropped)
	return true
}

// Locks implements Inspector. Stale locks are dropped first.
func (s *SQLiteTracker) Locks(ctx context.Context) ([]model.FileLock, error) {
	var locks []model.FileLock
	_, err := s.withTx(ctx, func(tx *sql.Tx) (bool, error) {
		if err := s.cleanupStale(ctx, tx); err != nil {
			return false, err
		}
		var err error
		locks, err = listLocks(ctx, tx)
		return true, err
	})
	return locks, err
}

// ActiveWorkflows implements Inspector.
func (s *SQLiteTracker) ActiveWorkflows(ctx context.Context) ([]model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, state, priority, anticipated_files, start_time, updated_time, end_time
		 FROM workflows WHERE state IN (?, ?) ORDER BY start_time`,
		string(model.WorkflowStateRegistered), string(model.WorkflowStateInProgress),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var role, state, files string
		if err := rows.Scan(&wf.ID, &role, &state, &wf.Priority, &files, &wf.StartTime, &wf.UpdatedTime, &wf.EndTime); err != nil {
			return nil, err
		}
		wf.Role = model.RoleID(role)
		wf.State = model.WorkflowState(state)
		if err := json.Unmarshal([]byte(files), &wf.AnticipatedFiles); err != nil {
			return nil, fmt.Errorf("unmarshal anticipated files: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// withTx runs fn in a transaction under s.mu, committing on success.
func (s *SQLiteTracker) withTx(ctx context.Context, fn func(tx *sql.Tx) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	ok, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return ok, nil
}

func (s *SQLiteTracker) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteTracker) newLock(path string, role model.RoleID, mode model.LockMode, workflowID string) *model.FileLock {
	lock := &model.FileLock{
		Path:             path,
		LockedBy:         role,
		Mode:             mode,
		WorkflowID:       workflowID,
		ExpectedDuration: DefaultExpectedDuration,
		ProcessID:        s.pid,
		Timestamp:        s.timestamp(),
	}
	if mode == model.LockRead {
		lock.Readers = []model.RoleID{role}
	}
	return lock
}

// cleanupStale removes locks held longer than their expected duration plus
// staleGrace. Locks with unparsable timestamps are left alone.
func (s *SQLiteTracker) cleanupStale(ctx context.Context, tx *sql.Tx) error {
	locks, err := listLocks(ctx, tx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, l := range locks {
		ts, err := time.Parse(time.RFC3339Nano, l.Timestamp)
		if err != nil {
			s.logger.Error("parse lock timestamp", "path", l.Path, "error", err)
			continue
		}
		limit := time.Duration(l.ExpectedDuration)*time.Second + staleGrace
		if now.Sub(ts) <= limit {
			continue
		}
		s.logger.Warn("removing stale lock", "path", l.Path, "holder", l.LockedBy, "age", now.Sub(ts).Round(time.Second))
		if err := deleteLock(ctx, tx, l.Path); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteTracker) putLock(ctx context.Context, tx *sql.Tx, l *model.FileLock) error {
	readers := l.Readers
	if readers == nil {
		readers = []model.RoleID{}
	}
	readersJSON, err := json.Marshal(readers)
	if err != nil {
		return fmt.Errorf("marshal readers: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO file_locks (path, locked_by, mode, workflow_id, readers, expected_duration, process_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Path, string(l.LockedBy), string(l.Mode), l.WorkflowID, string(readersJSON), l.ExpectedDuration, l.ProcessID, l.Timestamp,
	)
	return err
}

func getLock(ctx context.Context, tx *sql.Tx, path string) (*model.FileLock, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT path, locked_by, mode, workflow_id, readers, expected_duration, process_id, timestamp
		 FROM file_locks WHERE path = ?`, path)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func listLocks(ctx context.Context, tx *sql.Tx) ([]model.FileLock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT path, locked_by, mode, workflow_id, readers, expected_duration, process_id, timestamp
		 FROM file_locks ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FileLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLock(row scanner) (*model.FileLock, error) {
	var l model.FileLock
	var lockedBy, mode, readers string
	if err := row.Scan(&l.Path, &lockedBy, &mode, &l.WorkflowID, &readers, &l.ExpectedDuration, &l.ProcessID, &l.Timestamp); err != nil {
		return nil, err
	}
	l.LockedBy = model.RoleID(lockedBy)
	l.Mode = model.LockMode(mode)
	if err := json.Unmarshal([]byte(readers), &l.Readers); err != nil {
		return nil, fmt.Errorf("unmarshal readers: %w", err)
	}
	return &l, nil
}

func deleteLock(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE path = ?`, path)
	return err
}

func workflowPriority(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var p int
	err := tx.QueryRowContext(ctx, `SELECT priority FROM workflows WHERE id = ?`, id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return p, err
}
