package db

import (
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step, applied at most once and
// tracked in schema_migrations. New migrations are appended to
// migrations below; never edit an already-released entry.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_workflows",
		SQL: `
CREATE TABLE IF NOT EXISTS workflows (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	adw_id              TEXT NOT NULL,
	issue_number        INTEGER,
	issue_title         TEXT NOT NULL DEFAULT '',
	issue_body          TEXT NOT NULL DEFAULT '',
	issue_class         TEXT NOT NULL DEFAULT '',
	branch_name         TEXT NOT NULL DEFAULT '',
	worktree_path       TEXT NOT NULL DEFAULT '',
	current_stage       TEXT NOT NULL DEFAULT 'backlog',
	status              TEXT NOT NULL DEFAULT 'pending',
	is_stuck            INTEGER NOT NULL DEFAULT 0,
	workflow_name       TEXT NOT NULL DEFAULT '',
	model_set           TEXT NOT NULL DEFAULT 'base',
	data_source         TEXT NOT NULL DEFAULT '',
	issue_json          TEXT,
	orchestrator_state  TEXT,
	patch_file          TEXT NOT NULL DEFAULT '',
	patch_history       TEXT,
	patch_source_mode   TEXT NOT NULL DEFAULT '',
	backend_port        INTEGER,
	websocket_port      INTEGER,
	frontend_port       INTEGER,
	created_at          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	completed_at        TEXT,
	deleted_at          TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_adw_id ON workflows(adw_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_issue_number_live ON workflows(issue_number) WHERE deleted_at IS NULL AND issue_number IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_stage ON workflows(current_stage);
`,
	},
	{
		Version: 2,
		Name:    "create_activity_log",
		SQL: `
CREATE TABLE IF NOT EXISTS activity_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	adw_id         TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     TEXT,
	field_changed  TEXT NOT NULL DEFAULT '',
	old_value      TEXT NOT NULL DEFAULT '',
	new_value      TEXT NOT NULL DEFAULT '',
	user           TEXT NOT NULL DEFAULT '',
	workflow_step  TEXT NOT NULL DEFAULT '',
	timestamp      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_activity_log_adw_id ON activity_log(adw_id);
`,
	},
	{
		Version: 3,
		Name:    "create_issue_tracker",
		SQL: `
CREATE TABLE IF NOT EXISTS issue_tracker (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_number  INTEGER NOT NULL,
	issue_title   TEXT NOT NULL DEFAULT '',
	project_id    TEXT NOT NULL DEFAULT 'default',
	adw_id        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	deleted_at    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_tracker_number_live ON issue_tracker(issue_number) WHERE deleted_at IS NULL;
`,
	},
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations, in a single transaction, and records each applied
// version. It is safe to call on every process start.
func RunMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan schema_migrations row: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	var pending []migration
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range pending {
		if _, err := tx.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return tx.Commit()
}
