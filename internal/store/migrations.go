package store

import (
	"database/sql"
	"fmt"

	"researchhive/internal/logging"
)

// migration is one forward-only schema change. Migrations run inside a
// transaction in version order; the base schema in initialize() is
// version 0 and already idempotent, so entries here only cover changes
// made after a release shipped the prior shape.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// sessionMigrations covers the per-session database. The registry and
// global databases have their own (currently empty) histories and do
// not run these.
var sessionMigrations = []migration{
	{
		version: 1,
		name:    "sources_fetched_at_index",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sources_fetched ON sources(fetched_at)`)
			return err
		},
	},
	{
		version: 2,
		name:    "job_steps_timestamp_index",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_job_steps_ts ON job_steps(timestamp)`)
			return err
		},
	},
}

// RunMigrations brings a session database up to the current schema
// version. Safe to call on every open.
func RunMigrations(db *sql.DB) error {
	return runMigrations(db, sessionMigrations)
}

func runMigrations(db *sql.DB, migs []migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migs {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logging.Store("Applied migration %d: %s", m.version, m.name)
	}
	return nil
}
