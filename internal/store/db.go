// Package store persists sessions, chunks, jobs, and the claim ledger
// in per-scope SQLite databases. Each database is opened with a single
// writer connection in WAL mode; concurrency happens above the store,
// never inside it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"researchhive/internal/logging"
)

// openDatabase opens (creating if needed) a SQLite database with the
// pragmas every store in this system relies on.
func openDatabase(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer. All serialization happens on this one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}
	logging.StoreDebug("Opened SQLite database at %s", path)
	return db, nil
}

// detectVecExtension probes for the sqlite-vec extension by creating
// and dropping a throwaway vec0 virtual table. Returns true when ANN
// search is available in this build.
func detectVecExtension(db *sql.DB) bool {
	if _, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		logging.StoreDebug("sqlite-vec probe failed: %v", err)
		return false
	}
	if _, err := db.Exec("DROP TABLE IF EXISTS vec_probe"); err != nil {
		logging.StoreDebug("sqlite-vec probe cleanup failed: %v", err)
	}
	return true
}
