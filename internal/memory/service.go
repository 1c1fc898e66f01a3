// Package memory is the cross-session layer: chunks promoted out of a
// session become queryable from every later session.
package memory

import (
	"context"
	"fmt"

	"researchhive/internal/config"
	"researchhive/internal/embedding"
	"researchhive/internal/logging"
	"researchhive/internal/retrieval"
	"researchhive/internal/store"
	"researchhive/internal/types"
)

// Scope names how far a global query reaches.
type Scope string

const (
	// ScopeSession restricts hits to chunks promoted from one session.
	ScopeSession Scope = "session"
	// ScopePack restricts hits to one domain pack.
	ScopePack Scope = "pack"
	// ScopeHive is the unrestricted hive mind.
	ScopeHive Scope = "hive"
)

// Service wraps the global store with promotion and hybrid query.
type Service struct {
	global   *store.GlobalStore
	engine   *retrieval.Engine
	embedder embedding.Engine
}

// NewService builds the memory service. The retrieval engine runs the
// same hybrid contract as session search, pointed at the global store.
func NewService(global *store.GlobalStore, embedder embedding.Engine, cfg config.RetrievalConfig) *Service {
	return &Service{
		global:   global,
		engine:   retrieval.NewEngine(global, embedder, cfg),
		embedder: embedder,
	}
}

// Promote copies session chunks into global memory under a domain
// pack. Chunks are copies: the originating session's rows are not
// touched. Re-promotion overwrites, so the call is idempotent.
func (s *Service) Promote(ctx context.Context, sessionID string, chunks []types.Chunk, pack string, tags []string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Chunks missing embeddings are promoted as-is and served by the
	// keyword signal; backfilling is the embedder's job, not ours.
	globals := make([]types.GlobalChunk, len(chunks))
	now := types.NowUTC()
	for i, c := range chunks {
		if c.SessionID == "" {
			c.SessionID = sessionID
		}
		globals[i] = types.GlobalChunk{
			Chunk:       c,
			DomainPack:  pack,
			Tags:        tags,
			PromotedUTC: now,
		}
	}

	if s.embedder != nil {
		if err := s.global.EnsureVecIndex(s.embedder.Dimensions()); err != nil {
			return 0, err
		}
	}
	inserted, err := s.global.Promote(globals)
	if err != nil {
		return 0, fmt.Errorf("promote to global memory: %w", err)
	}
	logging.Memory("promoted %d chunks (%d new) into pack %q", len(chunks), inserted, pack)
	return inserted, nil
}

// Query runs hybrid retrieval against global memory. scopeID is the
// session id for ScopeSession and the pack name for ScopePack; ScopeHive
// ignores it.
func (s *Service) Query(ctx context.Context, scope Scope, scopeID, query string, filter types.SearchFilter, topK int) ([]types.ScoredChunk, error) {
	switch scope {
	case ScopeSession:
		filter.SessionID = scopeID
	case ScopePack:
		filter.DomainPack = scopeID
	case ScopeHive:
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", types.ErrInvalidInput, scope)
	}
	return s.engine.Search(ctx, query, retrieval.Options{TopK: topK, Filter: filter})
}

// ListPack exposes the raw contents of a domain pack.
func (s *Service) ListPack(pack string, limit int) ([]types.GlobalChunk, error) {
	return s.global.ListByPack(pack, limit)
}
