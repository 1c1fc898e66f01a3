// Package retrieval implements hybrid search: BM25 keyword ranking and
// cosine semantic ranking fused with weighted min-max normalization.
// The engine is store-agnostic; session and global memory both satisfy
// ChunkSource.
package retrieval

import (
	"context"
	"fmt"
	"sync"

	"researchhive/internal/config"
	"researchhive/internal/embedding"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// ChunkSource is a searchable chunk collection. Both search methods
// return raw scores where higher is better; normalization happens in
// the engine.
type ChunkSource interface {
	KeywordSearch(ctx context.Context, query string, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error)
	SemanticSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error)
}

// Options tunes one search call. Zero values fall back to the engine's
// configuration.
type Options struct {
	TopK   int
	Filter types.SearchFilter
}

// Engine runs hybrid retrieval against one ChunkSource.
type Engine struct {
	source   ChunkSource
	embedder embedding.Engine // nil disables the semantic signal
	cfg      config.RetrievalConfig

	mu sync.RWMutex
}

// NewEngine creates a retrieval engine. embedder may be nil, in which
// case every search degrades to keyword-only.
func NewEngine(source ChunkSource, embedder embedding.Engine, cfg config.RetrievalConfig) *Engine {
	return &Engine{source: source, embedder: embedder, cfg: cfg}
}

// SetConfig swaps the fusion parameters. Called by the config watcher.
func (e *Engine) SetConfig(cfg config.RetrievalConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) snapshot() config.RetrievalConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Search runs both signals in parallel and fuses the results. If one
// signal fails the other still serves the query; only a total failure
// is an error. Results are deduplicated by chunk id (max fused score
// wins) and returned best-first, at most topK.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]types.ScoredChunk, error) {
	cfg := e.snapshot()
	topK := opts.TopK
	if topK <= 0 {
		topK = cfg.TopK
	}
	candidates := cfg.CandidateLimit
	if candidates < topK {
		candidates = topK
	}

	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	var (
		wg          sync.WaitGroup
		keyword     []types.ScoredChunk
		keywordErr  error
		semantic    []types.ScoredChunk
		semanticErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		keyword, keywordErr = e.source.KeywordSearch(ctx, query, candidates, opts.Filter)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if e.embedder == nil {
			semanticErr = types.ErrNoEmbedder
			return
		}
		queryVec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			semanticErr = fmt.Errorf("embed query: %w", err)
			return
		}
		semantic, semanticErr = e.source.SemanticSearch(ctx, queryVec, candidates, opts.Filter)
	}()

	wg.Wait()

	if keywordErr != nil && semanticErr != nil {
		return nil, fmt.Errorf("both retrieval signals failed: keyword: %v; semantic: %v", keywordErr, semanticErr)
	}
	if keywordErr != nil {
		logging.Get(logging.CategoryRetrieval).Warn("keyword signal failed, serving semantic only: %v", keywordErr)
	}
	if semanticErr != nil {
		logging.Get(logging.CategoryRetrieval).Warn("semantic signal failed, serving keyword only: %v", semanticErr)
	}

	fused := Fuse(semantic, keyword, cfg.SemanticWeight, cfg.KeywordWeight)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	logging.RetrievalDebug("query %q: %d semantic + %d keyword -> %d fused",
		query, len(semantic), len(keyword), len(fused))
	return fused, nil
}
