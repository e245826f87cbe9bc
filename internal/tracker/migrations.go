package tracker

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the tracker tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id                TEXT PRIMARY KEY,
		role              TEXT NOT NULL,
		state             TEXT NOT NULL DEFAULT 'registered',
		priority          INTEGER NOT NULL DEFAULT 0,
		anticipated_files TEXT NOT NULL DEFAULT '[]',
		start_time        TEXT NOT NULL,
		updated_time      TEXT NOT NULL DEFAULT '',
		end_time          TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS file_locks (
		path              TEXT PRIMARY KEY,
		locked_by         TEXT NOT NULL,
		mode              TEXT NOT NULL,
		workflow_id       TEXT NOT NULL DEFAULT '',
		readers           TEXT NOT NULL DEFAULT '[]',
		expected_duration INTEGER NOT NULL DEFAULT 60,
		process_id        INTEGER NOT NULL DEFAULT 0,
		timestamp         TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_workflows_state ON workflows(state)`,
	`CREATE INDEX IF NOT EXISTS idx_file_locks_workflow_id ON file_locks(workflow_id)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
