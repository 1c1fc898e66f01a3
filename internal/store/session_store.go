package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"researchhive/internal/embedding"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// SessionStore owns one session database: sources, chunks with their
// FTS5 and vector indexes, research jobs, citations, and the claim
// ledger. One instance per open session; all writes serialize through
// the single sqlite connection.
type SessionStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	sessionID string
	vectorExt bool // sqlite-vec available in this build
	vecDim    int  // dimension of the ANN index, 0 until created
}

// NewSessionStore opens (creating if needed) the database for one
// session at the given path.
func NewSessionStore(path, sessionID string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSessionStore")
	defer timer.Stop()

	logging.Store("Opening session store %s at %s", sessionID, path)

	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &SessionStore{db: db, dbPath: path, sessionID: sessionID}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.vectorExt = detectVecExtension(db)
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
		s.vecDim = s.loadVecDim()
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec not available, semantic search will full-scan")
	}
	return s, nil
}

// SessionID returns the session this store belongs to.
func (s *SessionStore) SessionID() string {
	return s.sessionID
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func (s *SessionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		url TEXT,
		title TEXT NOT NULL DEFAULT '',
		content_hash TEXT,
		fetched_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sources_type ON sources(type);
	CREATE INDEX IF NOT EXISTS idx_sources_hash ON sources(content_hash);

	CREATE TABLE IF NOT EXISTS chunks (
		rid INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		source_type TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at TEXT NOT NULL,
		UNIQUE(source_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='chunks',
		content_rowid='rid'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE OF content ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rid, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rid, new.content);
	END;

	CREATE TABLE IF NOT EXISTS citations (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		chunk_id TEXT,
		start_offset INTEGER NOT NULL DEFAULT 0,
		end_offset INTEGER NOT NULL DEFAULT 0,
		page INTEGER NOT NULL DEFAULT 0,
		bounding_box TEXT,
		excerpt TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_citations_job ON citations(job_id);
	CREATE INDEX IF NOT EXISTS idx_citations_source ON citations(source_id);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		claim TEXT NOT NULL,
		support TEXT NOT NULL,
		citation_ids TEXT,
		explanation TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_claims_job ON claims(job_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		prompt TEXT NOT NULL,
		plan TEXT,
		search_queries TEXT,
		search_lanes TEXT,
		acquired_source_ids TEXT,
		target_source_count INTEGER NOT NULL DEFAULT 0,
		max_iterations INTEGER NOT NULL DEFAULT 0,
		current_iteration INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		error_message TEXT,
		checkpoint_data TEXT,
		most_supported_view TEXT,
		credible_alternatives TEXT,
		executive_summary TEXT,
		full_report TEXT,
		activity_report TEXT,
		replay_entries TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

	CREATE TABLE IF NOT EXISTS job_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		step_number INTEGER NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		state_after TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		UNIQUE(job_id, step_number)
	);
	CREATE INDEX IF NOT EXISTS idx_job_steps_job ON job_steps(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadVecDim reads the ANN index dimension recorded in meta, if any.
func (s *SessionStore) loadVecDim() int {
	var v int
	err := s.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'vec_dim'`).Scan(&v)
	if err != nil {
		return 0
	}
	return v
}

// EnsureVecIndex creates the ANN side table for the given embedding
// dimension. No-op when sqlite-vec is unavailable or the index exists.
// The first indexed embedding pins the dimension for the session.
func (s *SessionStore) EnsureVecIndex(dim int) error {
	if !s.vectorExt || dim <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 {
		return fmt.Errorf("%w: embedding dimension %d conflicts with existing index dimension %d",
			types.ErrInvalidInput, dim, s.vecDim)
	}
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(embedding float[%d] distance_metric=cosine)", dim)
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create vec index: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO meta(key, value) VALUES ('vec_dim', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		dim); err != nil {
		return fmt.Errorf("record vec dimension: %w", err)
	}
	s.vecDim = dim
	logging.Store("ANN index created (dim=%d)", dim)
	return nil
}

// =============================================================================
// SOURCES
// =============================================================================

// AddSource inserts a new source row.
func (s *SessionStore) AddSource(src *types.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !src.Type.Valid() {
		return fmt.Errorf("%w: source type %q", types.ErrInvalidInput, src.Type)
	}
	if src.CreatedUTC == "" {
		src.CreatedUTC = types.NowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO sources (id, type, url, title, content_hash, fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Type), src.URL, src.Title, src.ContentHash, src.FetchedUTC, src.CreatedUTC)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource fetches one source by id.
func (s *SessionStore) GetSource(id string) (*types.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := &types.Source{ID: id, SessionID: s.sessionID}
	var typ string
	var url, hash, fetched sql.NullString
	err := s.db.QueryRow(`
		SELECT type, url, title, content_hash, fetched_at, created_at
		FROM sources WHERE id = ?`, id).
		Scan(&typ, &url, &src.Title, &hash, &fetched, &src.CreatedUTC)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	src.Type = types.SourceType(typ)
	src.URL = url.String
	src.ContentHash = hash.String
	src.FetchedUTC = fetched.String
	return src, nil
}

// FindSourceByHash returns the source with the given content hash, or
// ErrNotFound. Used to skip re-ingesting identical content.
func (s *SessionStore) FindSourceByHash(hash string) (*types.Source, error) {
	s.mu.RLock()
	var id string
	err := s.db.QueryRow(`SELECT id FROM sources WHERE content_hash = ? LIMIT 1`, hash).Scan(&id)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source by hash: %w", err)
	}
	return s.GetSource(id)
}

// ListSources returns all sources ordered by creation time.
func (s *SessionStore) ListSources() ([]types.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, type, url, title, content_hash, fetched_at, created_at
		FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source
	for rows.Next() {
		src := types.Source{SessionID: s.sessionID}
		var typ string
		var url, hash, fetched sql.NullString
		if err := rows.Scan(&src.ID, &typ, &url, &src.Title, &hash, &fetched, &src.CreatedUTC); err != nil {
			return nil, err
		}
		src.Type = types.SourceType(typ)
		src.URL = url.String
		src.ContentHash = hash.String
		src.FetchedUTC = fetched.String
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteSource removes a source, its chunks (cascade), their index
// entries, and any citations that point at the source. All in one
// transaction so readers never observe a half-deleted source.
func (s *SessionStore) DeleteSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.vecDim > 0 {
		if _, err := tx.Exec(`
			DELETE FROM chunks_vec WHERE rowid IN (SELECT rid FROM chunks WHERE source_id = ?)`, id); err != nil {
			return fmt.Errorf("delete vec rows: %w", err)
		}
	}
	res, err := tx.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s: %w", id, types.ErrNotFound)
	}
	// Citations that pointed at this source become dangling; prune them
	// now rather than leaving the ledger to trip over them later.
	pruned, err := tx.Exec(`DELETE FROM citations WHERE source_id = ?`, id)
	if err != nil {
		return fmt.Errorf("prune citations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if n, _ := pruned.RowsAffected(); n > 0 {
		logging.Store("Deleted source %s and pruned %d orphan citations", id, n)
	}
	return nil
}

// =============================================================================
// CHUNKS
// =============================================================================

// AddChunks inserts a batch of chunks in one transaction. FTS rows are
// maintained by triggers; ANN rows are written here when the index
// exists and the chunk carries an embedding.
func (s *SessionStore) AddChunks(chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "AddChunks")
	defer timer.Stop()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ins, err := tx.Prepare(`
		INSERT INTO chunks (id, source_id, source_type, chunk_index, start_offset, end_offset, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for i := range chunks {
		c := &chunks[i]
		if c.CreatedUTC == "" {
			c.CreatedUTC = types.NowUTC()
		}
		res, err := ins.Exec(c.ID, c.SourceID, string(c.SourceType), c.ChunkIndex,
			c.StartOffset, c.EndOffset, c.Text, encodeEmbedding(c.Embedding), c.CreatedUTC)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		if s.vecDim > 0 && len(c.Embedding) == s.vecDim {
			rid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO chunks_vec(rowid, embedding) VALUES (?, ?)`,
				rid, encodeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("index chunk %s: %w", c.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.StoreDebug("Inserted %d chunks", len(chunks))
	return nil
}

// AttachEmbeddings stores embeddings for existing chunks in one
// transaction, keyed by chunk id.
func (s *SessionStore) AttachEmbeddings(vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, vec := range vectors {
		res, err := tx.Exec(`UPDATE chunks SET embedding = ? WHERE id = ?`, encodeEmbedding(vec), id)
		if err != nil {
			return fmt.Errorf("attach embedding %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
		}
		if s.vecDim > 0 && len(vec) == s.vecDim {
			var rid int64
			if err := tx.QueryRow(`SELECT rid FROM chunks WHERE id = ?`, id).Scan(&rid); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM chunks_vec WHERE rowid = ?`, rid); err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO chunks_vec(rowid, embedding) VALUES (?, ?)`,
				rid, encodeEmbedding(vec)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GetChunk fetches one chunk by id.
func (s *SessionStore) GetChunk(id string) (*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_id, source_type, chunk_index, start_offset, end_offset, content, embedding, created_at
		FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row, s.sessionID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	return c, err
}

// ChunksMissingEmbeddings returns up to limit chunks that have no
// embedding yet, oldest first. The indexer drains this queue.
func (s *SessionStore) ChunksMissingEmbeddings(limit int) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, source_id, source_type, chunk_index, start_offset, end_offset, content, embedding, created_at
		FROM chunks WHERE embedding IS NULL ORDER BY rid LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, s.sessionID)
}

// ChunksForPromotion returns the session's chunks, optionally
// restricted to one source, in source order.
func (s *SessionStore) ChunksForPromotion(sourceID string) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, source_id, source_type, chunk_index, start_offset, end_offset, content, embedding, created_at
		FROM chunks`
	var args []interface{}
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY source_id, chunk_index`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, s.sessionID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner, sessionID string) (*types.Chunk, error) {
	c := &types.Chunk{SessionID: sessionID}
	var typ string
	var blob []byte
	if err := row.Scan(&c.ID, &c.SourceID, &typ, &c.ChunkIndex,
		&c.StartOffset, &c.EndOffset, &c.Text, &blob, &c.CreatedUTC); err != nil {
		return nil, err
	}
	c.SourceType = types.SourceType(typ)
	vec, err := decodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	c.Embedding = vec
	return c, nil
}

func scanChunks(rows *sql.Rows, sessionID string) ([]types.Chunk, error) {
	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// =============================================================================
// SEARCH
// =============================================================================

// buildMatchQuery turns free text into an FTS5 MATCH expression. Each
// token is quoted so user punctuation cannot produce a syntax error,
// and tokens are OR-ed for recall; BM25 still ranks multi-term hits
// higher.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// filterClause renders a SearchFilter into SQL against the chunks
// table aliased as c. DomainPack and session fields do not apply here.
func filterClause(filter types.SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if len(filter.SourceTypes) > 0 {
		ph := make([]string, len(filter.SourceTypes))
		for i, st := range filter.SourceTypes {
			ph[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "c.source_type IN ("+strings.Join(ph, ",")+")")
	}
	if filter.SourceID != "" {
		clauses = append(clauses, "c.source_id = ?")
		args = append(args, filter.SourceID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// KeywordSearch runs BM25 ranking over the FTS index. Scores are raw
// (higher is better); normalization is the caller's concern. An empty
// or unmatchable query returns no results, not an error.
func (s *SessionStore) KeywordSearch(ctx context.Context, query string, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterClause(filter)
	sqlq := `
		SELECT c.id, c.source_id, c.source_type, c.chunk_index, c.start_offset, c.end_offset,
		       c.content, c.embedding, c.created_at, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?` + where + `
		ORDER BY rank LIMIT ?`
	qargs := append([]interface{}{match}, args...)
	qargs = append(qargs, limit)

	rows, err := s.db.QueryContext(ctx, sqlq, qargs...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c := types.Chunk{SessionID: s.sessionID}
		var typ string
		var blob []byte
		var rank float64
		if err := rows.Scan(&c.ID, &c.SourceID, &typ, &c.ChunkIndex, &c.StartOffset,
			&c.EndOffset, &c.Text, &blob, &c.CreatedUTC, &rank); err != nil {
			return nil, err
		}
		c.SourceType = types.SourceType(typ)
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, err
		}
		// bm25() returns lower-is-better; negate so higher is better.
		out = append(out, types.ScoredChunk{Chunk: c, Score: -rank})
	}
	return out, rows.Err()
}

// SemanticSearch ranks chunks by cosine similarity to the query
// vector. Uses the ANN index when available, otherwise scans all
// embedded chunks.
func (s *SessionStore) SemanticSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecDim == len(queryVec) {
		res, err := s.annSearch(ctx, queryVec, limit, filter)
		if err == nil {
			return res, nil
		}
		logging.Get(logging.CategoryStore).Warn("ANN search failed, falling back to scan: %v", err)
	}
	return s.scanSearch(ctx, queryVec, limit, filter)
}

func (s *SessionStore) annSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	where, args := filterClause(filter)
	sqlq := `
		SELECT c.id, c.source_id, c.source_type, c.chunk_index, c.start_offset, c.end_offset,
		       c.content, c.embedding, c.created_at, v.distance
		FROM (
			SELECT rowid, distance FROM chunks_vec
			WHERE embedding MATCH ? ORDER BY distance LIMIT ?
		) v
		JOIN chunks c ON c.rid = v.rowid
		WHERE 1=1` + where + `
		ORDER BY v.distance`
	qargs := append([]interface{}{encodeEmbedding(queryVec), limit}, args...)

	rows, err := s.db.QueryContext(ctx, sqlq, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c := types.Chunk{SessionID: s.sessionID}
		var typ string
		var blob []byte
		var dist float64
		if err := rows.Scan(&c.ID, &c.SourceID, &typ, &c.ChunkIndex, &c.StartOffset,
			&c.EndOffset, &c.Text, &blob, &c.CreatedUTC, &dist); err != nil {
			return nil, err
		}
		c.SourceType = types.SourceType(typ)
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, err
		}
		// vec0 cosine distance is 1 - similarity.
		out = append(out, types.ScoredChunk{Chunk: c, Score: 1 - dist})
	}
	return out, rows.Err()
}

func (s *SessionStore) scanSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	where, args := filterClause(filter)
	sqlq := `
		SELECT c.id, c.source_id, c.source_type, c.chunk_index, c.start_offset, c.end_offset,
		       c.content, c.embedding, c.created_at
		FROM chunks c
		WHERE c.embedding IS NOT NULL` + where

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic scan: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c, err := scanChunk(rows, s.sessionID)
		if err != nil {
			return nil, err
		}
		sim, err := embedding.CosineSimilarity(queryVec, c.Embedding)
		if err != nil {
			// Dimension mismatch from an engine change; skip the chunk.
			continue
		}
		out = append(out, types.ScoredChunk{Chunk: *c, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortScoredDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortScoredDesc orders results best-first with id as a tie break so
// equal scores produce a stable order.
func sortScoredDesc(s []types.ScoredChunk) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Chunk.ID < s[j].Chunk.ID
	})
}
