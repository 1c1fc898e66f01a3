package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"researchhive/internal/config"
	"researchhive/internal/store"
	"researchhive/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	g, err := store.NewGlobalStore(filepath.Join(t.TempDir(), "global.db"))
	if err != nil {
		t.Fatalf("NewGlobalStore: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return NewService(g, nil, config.RetrievalConfig{
		SemanticWeight: 0.5, KeywordWeight: 0.5, TopK: 10, CandidateLimit: 50,
	})
}

func chunk(id, session, text string) types.Chunk {
	return types.Chunk{
		ID: id, SessionID: session, SourceID: "src-" + id,
		SourceType: types.SourceWebSnapshot, Text: text,
		CreatedUTC: types.NowUTC(),
	}
}

func TestPromoteAndQueryByPack(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	n, err := svc.Promote(ctx, "sess-a", []types.Chunk{
		chunk("m1", "sess-a", "perovskite solar cells degrade in humid air"),
		chunk("m2", "sess-a", "tandem perovskite silicon cells reach record efficiency"),
	}, "energy", []string{"solar"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}

	_, err = svc.Promote(ctx, "sess-b", []types.Chunk{
		chunk("m3", "sess-b", "perovskite films for photodetectors"),
	}, "optics", nil)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := svc.Query(ctx, ScopePack, "energy", "perovskite", types.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("pack scope leaked: %d hits", len(hits))
	}

	hits, err = svc.Query(ctx, ScopeHive, "", "perovskite", types.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Errorf("hive scope should see all: %d hits", len(hits))
	}

	hits, err = svc.Query(ctx, ScopeSession, "sess-b", "perovskite", types.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "m3" {
		t.Errorf("session scope failed: %+v", hits)
	}
}

func TestPromoteIdempotentThroughService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	batch := []types.Chunk{chunk("m1", "sess-a", "original text")}
	if _, err := svc.Promote(ctx, "sess-a", batch, "energy", nil); err != nil {
		t.Fatal(err)
	}

	batch[0].Text = "revised text after re-research"
	n, err := svc.Promote(ctx, "sess-a", batch, "energy", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-promotion inserted %d rows", n)
	}

	got, err := svc.ListPack("energy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("stored = %d, want 1", len(got))
	}
	if got[0].Text != "revised text after re-research" {
		t.Errorf("latest content did not win: %q", got[0].Text)
	}
}

func TestQueryUnknownScope(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Query(context.Background(), Scope("galaxy"), "", "q", types.SearchFilter{}, 5)
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestPromoteEmptyBatch(t *testing.T) {
	svc := newTestService(t)
	n, err := svc.Promote(context.Background(), "sess-a", nil, "energy", nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
