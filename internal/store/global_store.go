package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"researchhive/internal/embedding"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// GlobalStore is the cross-session memory at .hive/global.db. Chunks
// arrive only via promotion from a session; each promoted chunk keeps
// a pointer back to its origin so promotion stays idempotent and the
// provenance survives session deletion.
type GlobalStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	vectorExt bool
	vecDim    int
}

// NewGlobalStore opens the global memory database.
func NewGlobalStore(path string) (*GlobalStore, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	g := &GlobalStore{db: db}
	if err := g.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize global schema: %w", err)
	}
	g.vectorExt = detectVecExtension(db)
	if g.vectorExt {
		g.vecDim = g.loadVecDim()
	}
	return g, nil
}

func (g *GlobalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS global_chunks (
		rid INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		origin_session_id TEXT NOT NULL,
		origin_chunk_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		domain_pack TEXT NOT NULL DEFAULT '',
		tags TEXT,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at TEXT NOT NULL,
		promoted_at TEXT NOT NULL,
		UNIQUE(origin_session_id, origin_chunk_id)
	);
	CREATE INDEX IF NOT EXISTS idx_global_pack ON global_chunks(domain_pack);
	CREATE INDEX IF NOT EXISTS idx_global_origin ON global_chunks(origin_session_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS global_fts USING fts5(
		content,
		content='global_chunks',
		content_rowid='rid'
	);

	CREATE TRIGGER IF NOT EXISTS global_ai AFTER INSERT ON global_chunks BEGIN
		INSERT INTO global_fts(rowid, content) VALUES (new.rid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS global_ad AFTER DELETE ON global_chunks BEGIN
		INSERT INTO global_fts(global_fts, rowid, content) VALUES ('delete', old.rid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS global_au AFTER UPDATE ON global_chunks BEGIN
		INSERT INTO global_fts(global_fts, rowid, content) VALUES ('delete', old.rid, old.content);
		INSERT INTO global_fts(rowid, content) VALUES (new.rid, new.content);
	END;
	`
	_, err := g.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (g *GlobalStore) Close() error {
	return g.db.Close()
}

func (g *GlobalStore) loadVecDim() int {
	var v int
	if err := g.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'vec_dim'`).Scan(&v); err != nil {
		return 0
	}
	return v
}

// EnsureVecIndex mirrors SessionStore.EnsureVecIndex for the global
// database.
func (g *GlobalStore) EnsureVecIndex(dim int) error {
	if !g.vectorExt || dim <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vecDim == dim {
		return nil
	}
	if g.vecDim != 0 {
		return fmt.Errorf("%w: embedding dimension %d conflicts with existing index dimension %d",
			types.ErrInvalidInput, dim, g.vecDim)
	}
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS global_vec USING vec0(embedding float[%d] distance_metric=cosine)", dim)
	if _, err := g.db.Exec(stmt); err != nil {
		return fmt.Errorf("create vec index: %w", err)
	}
	if _, err := g.db.Exec(
		`INSERT INTO meta(key, value) VALUES ('vec_dim', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		dim); err != nil {
		return err
	}
	g.vecDim = dim
	return nil
}

// Promote copies chunks into global memory in one transaction.
// Re-promoting a chunk with an id already present overwrites the
// stored content rather than duplicating it, so calls are idempotent
// and the latest promotion wins. Returns how many chunks were newly
// inserted (overwrites do not count).
func (g *GlobalStore) Promote(chunks []types.GlobalChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for i := range chunks {
		c := &chunks[i]
		if c.PromotedUTC == "" {
			c.PromotedUTC = types.NowUTC()
		}

		var rid int64
		err := tx.QueryRow(`SELECT rid FROM global_chunks WHERE id = ?`, c.Chunk.ID).Scan(&rid)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.Exec(`
				INSERT INTO global_chunks (id, origin_session_id, origin_chunk_id, source_id,
					source_type, domain_pack, tags, chunk_index, start_offset, end_offset,
					content, embedding, created_at, promoted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.Chunk.ID, c.SessionID, c.Chunk.ID, c.SourceID, string(c.SourceType),
				c.DomainPack, marshalJSON(c.Tags), c.ChunkIndex, c.StartOffset, c.EndOffset,
				c.Text, encodeEmbedding(c.Embedding), c.CreatedUTC, c.PromotedUTC)
			if err != nil {
				return 0, fmt.Errorf("promote chunk %s: %w", c.Chunk.ID, err)
			}
			if rid, err = res.LastInsertId(); err != nil {
				return 0, err
			}
			inserted++
		case err != nil:
			return 0, err
		default:
			if _, err := tx.Exec(`
				UPDATE global_chunks
				SET domain_pack = ?, tags = ?, content = ?, embedding = ?, promoted_at = ?
				WHERE rid = ?`,
				c.DomainPack, marshalJSON(c.Tags), c.Text, encodeEmbedding(c.Embedding),
				c.PromotedUTC, rid); err != nil {
				return 0, fmt.Errorf("re-promote chunk %s: %w", c.Chunk.ID, err)
			}
		}

		if g.vecDim > 0 && len(c.Embedding) == g.vecDim {
			if _, err := tx.Exec(`DELETE FROM global_vec WHERE rowid = ?`, rid); err != nil {
				return 0, err
			}
			if _, err := tx.Exec(`INSERT INTO global_vec(rowid, embedding) VALUES (?, ?)`,
				rid, encodeEmbedding(c.Embedding)); err != nil {
				return 0, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logging.Memory("Promoted %d/%d chunks to global memory", inserted, len(chunks))
	return inserted, nil
}

func globalFilterClause(filter types.SearchFilter) (string, []interface{}) {
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
	if filter.DomainPack != "" {
		clauses = append(clauses, "c.domain_pack = ?")
		args = append(args, filter.DomainPack)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "c.origin_session_id = ?")
		args = append(args, filter.SessionID)
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

func scanGlobalRow(rows *sql.Rows, withScore bool) (types.GlobalChunk, float64, error) {
	var c types.GlobalChunk
	var typ string
	var tags sql.NullString
	var blob []byte
	var score float64

	dest := []interface{}{&c.Chunk.ID, &c.SessionID, &c.SourceID, &typ, &c.DomainPack,
		&tags, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &c.Text, &blob,
		&c.CreatedUTC, &c.PromotedUTC}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return c, 0, err
	}
	c.SourceType = types.SourceType(typ)
	if tags.String != "" {
		c.Tags = unmarshalStrings(tags.String)
	}
	vec, err := decodeEmbedding(blob)
	if err != nil {
		return c, 0, err
	}
	c.Embedding = vec
	return c, score, nil
}

const globalSelectCols = `c.id, c.origin_session_id, c.source_id, c.source_type, c.domain_pack,
	c.tags, c.chunk_index, c.start_offset, c.end_offset, c.content, c.embedding,
	c.created_at, c.promoted_at`

// KeywordSearch runs BM25 ranking over the global FTS index.
func (g *GlobalStore) KeywordSearch(ctx context.Context, query string, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	where, args := globalFilterClause(filter)
	sqlq := `
		SELECT ` + globalSelectCols + `, bm25(global_fts) AS rank
		FROM global_fts
		JOIN global_chunks c ON c.rid = global_fts.rowid
		WHERE global_fts MATCH ?` + where + `
		ORDER BY rank LIMIT ?`
	qargs := append([]interface{}{match}, args...)
	qargs = append(qargs, limit)

	rows, err := g.db.QueryContext(ctx, sqlq, qargs...)
	if err != nil {
		return nil, fmt.Errorf("global keyword search: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c, rank, err := scanGlobalRow(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, types.ScoredChunk{Chunk: c.Chunk, Score: -rank})
	}
	return out, rows.Err()
}

// SemanticSearch ranks global chunks by cosine similarity to the
// query vector, using the ANN index when available.
func (g *GlobalStore) SemanticSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.vecDim == len(queryVec) {
		res, err := g.annSearch(ctx, queryVec, limit, filter)
		if err == nil {
			return res, nil
		}
		logging.Get(logging.CategoryStore).Warn("global ANN search failed, falling back to scan: %v", err)
	}
	return g.scanSearch(ctx, queryVec, limit, filter)
}

func (g *GlobalStore) annSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	where, args := globalFilterClause(filter)
	sqlq := `
		SELECT ` + globalSelectCols + `, v.distance
		FROM (
			SELECT rowid, distance FROM global_vec
			WHERE embedding MATCH ? ORDER BY distance LIMIT ?
		) v
		JOIN global_chunks c ON c.rid = v.rowid
		WHERE 1=1` + where + `
		ORDER BY v.distance`
	qargs := append([]interface{}{encodeEmbedding(queryVec), limit}, args...)

	rows, err := g.db.QueryContext(ctx, sqlq, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c, dist, err := scanGlobalRow(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, types.ScoredChunk{Chunk: c.Chunk, Score: 1 - dist})
	}
	return out, rows.Err()
}

func (g *GlobalStore) scanSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	where, args := globalFilterClause(filter)
	sqlq := `
		SELECT ` + globalSelectCols + `
		FROM global_chunks c
		WHERE c.embedding IS NOT NULL` + where

	rows, err := g.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("global semantic scan: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		c, _, err := scanGlobalRow(rows, false)
		if err != nil {
			return nil, err
		}
		sim, err := embedding.CosineSimilarity(queryVec, c.Embedding)
		if err != nil {
			continue
		}
		out = append(out, types.ScoredChunk{Chunk: c.Chunk, Score: sim})
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

// ListByPack returns global chunks in a domain pack, newest promotion
// first.
func (g *GlobalStore) ListByPack(pack string, limit int) ([]types.GlobalChunk, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, err := g.db.Query(`
		SELECT `+globalSelectCols+`
		FROM global_chunks c
		WHERE c.domain_pack = ?
		ORDER BY c.promoted_at DESC, c.id LIMIT ?`, pack, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.GlobalChunk
	for rows.Next() {
		c, _, err := scanGlobalRow(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
