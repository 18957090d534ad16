package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, learnings",
		SQL:         migration001SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    id                  TEXT PRIMARY KEY,
    type                TEXT NOT NULL,
    project_id          TEXT NOT NULL,
    status              TEXT NOT NULL,
    priority            INTEGER NOT NULL DEFAULT 3,
    input               TEXT NOT NULL,
    output              TEXT,
    ai_started_at       DATETIME,
    ai_completed_at     DATETIME,
    ai_confidence       REAL,
    ai_error            TEXT,
    ai_result           TEXT,
    ai_learnings        TEXT,
    human_reason        TEXT,
    escalated_by        TEXT,
    escalated_at        DATETIME,
    assigned_to         TEXT,
    assigned_at         DATETIME,
    completed_by        TEXT,
    human_completed_at  DATETIME,
    human_action        TEXT,
    human_notes         TEXT,
    human_output        TEXT,
    learning_data       TEXT,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    max_retries         INTEGER NOT NULL DEFAULT 3,
    version             INTEGER NOT NULL DEFAULT 1,
    created_by          TEXT NOT NULL,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL
);

CREATE INDEX idx_tasks_queue ON tasks(status, priority, created_at);
CREATE INDEX idx_tasks_project ON tasks(project_id);
CREATE INDEX idx_tasks_type ON tasks(type);

CREATE TABLE learnings (
    id                   TEXT PRIMARY KEY,
    task_type            TEXT NOT NULL,
    task_id              TEXT NOT NULL,
    context              TEXT,
    pattern              TEXT NOT NULL,
    human_action         TEXT,
    human_input          TEXT,
    ai_attempted_output  TEXT,
    delta_ai_confidence  REAL NOT NULL DEFAULT 0,
    confidence           REAL NOT NULL DEFAULT 0.5,
    usage_count          INTEGER NOT NULL DEFAULT 0,
    success_count        INTEGER NOT NULL DEFAULT 0,
    failure_count        INTEGER NOT NULL DEFAULT 0,
    trainable            INTEGER NOT NULL DEFAULT 1,
    created_by           TEXT NOT NULL,
    created_at           DATETIME NOT NULL,
    last_used_at         DATETIME
);

CREATE INDEX idx_learnings_type_confidence ON learnings(task_type, confidence DESC);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
