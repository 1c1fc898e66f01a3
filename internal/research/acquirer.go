package research

import (
	"context"

	"golang.org/x/sync/errgroup"

	"researchhive/internal/fetch"
	"researchhive/internal/ingest"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// SourceAcquirer turns one search query into indexed sources and
// returns their ids. Implementations are best effort: a query that
// finds nothing returns an empty slice, not an error.
type SourceAcquirer interface {
	Acquire(ctx context.Context, sessionID, query string, want int) ([]string, error)
}

// WebAcquirer searches the web, fetches the hits, and indexes the
// snapshots. Individual fetch failures are logged and skipped; only a
// failing search itself surfaces as an error.
type WebAcquirer struct {
	searcher    fetch.Searcher
	snapshotter *fetch.Snapshotter
	indexer     *ingest.Indexer
	fetchLanes  int
}

// NewWebAcquirer wires search, fetch, and ingestion together.
// fetchLanes bounds how many result URLs are fetched in parallel per
// query; the scheduler's pools still apply underneath.
func NewWebAcquirer(searcher fetch.Searcher, snapshotter *fetch.Snapshotter, indexer *ingest.Indexer, fetchLanes int) *WebAcquirer {
	if fetchLanes <= 0 {
		fetchLanes = 4
	}
	return &WebAcquirer{searcher: searcher, snapshotter: snapshotter, indexer: indexer, fetchLanes: fetchLanes}
}

// Acquire fetches up to want sources for the query.
func (a *WebAcquirer) Acquire(ctx context.Context, sessionID, query string, want int) ([]string, error) {
	if want <= 0 {
		want = 5
	}
	results, err := a.searcher.Search(ctx, query, want*2)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Fetch candidates in parallel lanes; duplicates and failures just
	// shrink the haul.
	ids := make([]string, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fetchLanes)
	for i, r := range results {
		g.Go(func() error {
			snap, err := a.snapshotter.Fetch(gctx, r.URL)
			if err != nil {
				logging.FetchWarn("skipping %s: %v", r.URL, err)
				return nil
			}
			if snap.Title == "" {
				snap.Title = r.Title
			}
			src, _, err := a.indexer.IndexSnapshot(gctx, sessionID, snap, types.SourceWebSnapshot)
			if err != nil {
				logging.FetchWarn("indexing %s failed: %v", r.URL, err)
				return nil
			}
			ids[i] = src.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == want {
			break
		}
	}
	return out, nil
}
