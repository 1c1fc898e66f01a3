package store

import (
	"database/sql"
	"fmt"
	"sync"

	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// RegistryStore is the process-wide session index at .hive/registry.db.
// It knows which sessions exist and where their databases live; it
// never holds session content.
type RegistryStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewRegistryStore opens the registry database.
func NewRegistryStore(path string) (*RegistryStore, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	r := &RegistryStore{db: db}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return r, nil
}

func (r *RegistryStore) initialize() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			root_path TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`)
	return err
}

// Close closes the underlying database.
func (r *RegistryStore) Close() error {
	return r.db.Close()
}

// CreateSession registers a new session.
func (r *RegistryStore) CreateSession(sess *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := types.NowUTC()
	if sess.CreatedUTC == "" {
		sess.CreatedUTC = now
	}
	sess.UpdatedUTC = now
	_, err := r.db.Exec(`
		INSERT INTO sessions (id, title, root_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.RootPath, sess.CreatedUTC, sess.UpdatedUTC)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	logging.Session("Registered session %s (%s)", sess.ID, sess.Title)
	return nil
}

// GetSession fetches one session by id.
func (r *RegistryStore) GetSession(id string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess := &types.Session{ID: id}
	var root sql.NullString
	err := r.db.QueryRow(`
		SELECT title, root_path, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.Title, &root, &sess.CreatedUTC, &sess.UpdatedUTC)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.RootPath = root.String
	return sess, nil
}

// ListSessions returns sessions most recently touched first.
func (r *RegistryStore) ListSessions() ([]types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT id, title, root_path, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var sess types.Session
		var root sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Title, &root, &sess.CreatedUTC, &sess.UpdatedUTC); err != nil {
			return nil, err
		}
		sess.RootPath = root.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// TouchSession bumps a session's updated_at to now.
func (r *RegistryStore) TouchSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, types.NowUTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session from the index. The caller is
// responsible for removing the session database file.
func (r *RegistryStore) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return nil
}
