package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"researchhive/internal/embedding"
	"researchhive/internal/fetch"
	"researchhive/internal/logging"
	"researchhive/internal/sched"
	"researchhive/internal/types"
)

// ChunkStore is the slice of the session store the indexer writes to.
type ChunkStore interface {
	AddSource(src *types.Source) error
	FindSourceByHash(hash string) (*types.Source, error)
	AddChunks(chunks []types.Chunk) error
	ChunksMissingEmbeddings(limit int) ([]types.Chunk, error)
	AttachEmbeddings(vectors map[string][]float32) error
	EnsureVecIndex(dim int) error
}

// Indexer chunks snapshots into the store and backfills embeddings.
// A nil embedder indexes keyword-only; semantic search degrades until
// embeddings arrive.
type Indexer struct {
	store    ChunkStore
	embedder embedding.Engine
	pools    *sched.Pools
	chunker  *Chunker
	batch    int
}

// NewIndexer builds an indexer. batchSize bounds embedding calls.
func NewIndexer(store ChunkStore, embedder embedding.Engine, pools *sched.Pools, chunker *Chunker, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Indexer{store: store, embedder: embedder, pools: pools, chunker: chunker, batch: batchSize}
}

// IndexSnapshot stores a fetched snapshot as a source plus its chunks.
// A snapshot whose content hash is already present is skipped and the
// existing source returned.
func (ix *Indexer) IndexSnapshot(ctx context.Context, sessionID string, snap *fetch.Snapshot, srcType types.SourceType) (*types.Source, int, error) {
	if !srcType.Valid() {
		return nil, 0, fmt.Errorf("%w: source type %q", types.ErrInvalidInput, srcType)
	}

	existing, err := ix.store.FindSourceByHash(snap.ContentHash)
	switch {
	case err == nil:
		logging.Ingest("source %s already indexed as %s, skipping", snap.URL, existing.ID)
		return existing, 0, nil
	case !errors.Is(err, types.ErrNotFound):
		return nil, 0, err
	}

	src := types.Source{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Type:        srcType,
		URL:         snap.URL,
		Title:       snap.Title,
		ContentHash: snap.ContentHash,
		FetchedUTC:  snap.FetchedUTC,
		CreatedUTC:  types.NowUTC(),
	}
	if err := ix.store.AddSource(&src); err != nil {
		return nil, 0, err
	}

	chunks := ix.chunker.Chunk(sessionID, src, snap.Text)
	if len(chunks) > 0 {
		if err := ix.store.AddChunks(chunks); err != nil {
			return nil, 0, err
		}
	}
	logging.Ingest("indexed %s: source %s, %d chunks", snap.URL, src.ID, len(chunks))

	if ix.embedder != nil {
		if err := ix.EmbedPending(ctx); err != nil {
			return &src, len(chunks), err
		}
	}
	return &src, len(chunks), nil
}

// EmbedPending drains chunks without embeddings in batches through the
// embedding pool and attaches the vectors.
func (ix *Indexer) EmbedPending(ctx context.Context) error {
	if ix.embedder == nil {
		return types.ErrNoEmbedder
	}
	if err := ix.store.EnsureVecIndex(ix.embedder.Dimensions()); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := ix.store.ChunksMissingEmbeddings(ix.batch)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		release, err := ix.pools.AcquireEmbedding(ctx)
		if err != nil {
			return err
		}
		texts := make([]string, len(pending))
		for i, c := range pending {
			texts[i] = c.Text
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		release()
		if err != nil {
			return fmt.Errorf("embed batch of %d: %w", len(pending), err)
		}

		vectors := make(map[string][]float32, len(pending))
		for i, c := range pending {
			vectors[c.ID] = vecs[i]
		}
		if err := ix.store.AttachEmbeddings(vectors); err != nil {
			return err
		}
		logging.EmbeddingDebug("attached %d embeddings", len(pending))
	}
}
