package store

import (
	"context"
	"path/filepath"
	"testing"

	"researchhive/internal/types"
)

func newTestGlobal(t *testing.T) *GlobalStore {
	t.Helper()
	g, err := NewGlobalStore(filepath.Join(t.TempDir(), "global.db"))
	if err != nil {
		t.Fatalf("NewGlobalStore: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func promoted(id, session, pack, text string, vec []float32) types.GlobalChunk {
	return types.GlobalChunk{
		Chunk: types.Chunk{
			ID: id, SessionID: session, SourceID: "src-" + id,
			SourceType: types.SourceWebSnapshot, Text: text, Embedding: vec,
			CreatedUTC: types.NowUTC(),
		},
		DomainPack: pack,
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	g := newTestGlobal(t)

	batch := []types.GlobalChunk{
		promoted("g1", "sess-a", "energy", "perovskite cells degrade under humidity", nil),
		promoted("g2", "sess-a", "energy", "tandem cells beat single junction efficiency", nil),
	}
	n, err := g.Promote(batch)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	// Same ids again with new content: nothing inserted, content
	// overwritten, latest promotion wins.
	batch[0].Text = "perovskite cells degrade rapidly under humidity and heat"
	n, err = g.Promote(batch)
	if err != nil {
		t.Fatalf("repeat Promote: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat promotion inserted %d rows", n)
	}
	got, err := g.ListByPack("energy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stored chunks after re-promotion, got %d", len(got))
	}
	found := false
	for _, c := range got {
		if c.Chunk.ID == "g1" {
			found = true
			if c.Text != batch[0].Text {
				t.Errorf("re-promotion did not overwrite content: %q", c.Text)
			}
		}
	}
	if !found {
		t.Fatal("g1 missing after re-promotion")
	}

	// The overwritten content is what the keyword index serves.
	hits, err := g.KeywordSearch(context.Background(), "rapidly", 10, types.SearchFilter{})
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "g1" {
		t.Errorf("FTS not updated on re-promotion: %+v", hits)
	}

	n, err = g.Promote([]types.GlobalChunk{
		promoted("g3", "sess-b", "energy", "new fact from another session", nil),
	})
	if err != nil || n != 1 {
		t.Errorf("new chunk should insert: n=%d err=%v", n, err)
	}
}

func TestGlobalKeywordSearchFiltersByPack(t *testing.T) {
	g := newTestGlobal(t)
	_, err := g.Promote([]types.GlobalChunk{
		promoted("g1", "sess-a", "energy", "solar panel efficiency records", nil),
		promoted("g2", "sess-a", "bio", "protein folding efficiency gains", nil),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := g.KeywordSearch(context.Background(), "efficiency", 10,
		types.SearchFilter{DomainPack: "energy"})
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "g1" {
		t.Errorf("pack filter failed: %+v", hits)
	}
}

func TestGlobalSemanticSearch(t *testing.T) {
	g := newTestGlobal(t)
	_, err := g.Promote([]types.GlobalChunk{
		promoted("g1", "sess-a", "energy", "alpha", []float32{1, 0}),
		promoted("g2", "sess-a", "energy", "beta", []float32{0, 1}),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := g.SemanticSearch(context.Background(), []float32{0.9, 0.1}, 10, types.SearchFilter{})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 2 || hits[0].Chunk.ID != "g1" {
		t.Errorf("expected g1 first, got %+v", hits)
	}
}

func TestListByPack(t *testing.T) {
	g := newTestGlobal(t)
	_, err := g.Promote([]types.GlobalChunk{
		promoted("g1", "sess-a", "energy", "one", nil),
		promoted("g2", "sess-a", "energy", "two", nil),
		promoted("g3", "sess-a", "bio", "three", nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.ListByPack("energy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 energy chunks, got %d", len(got))
	}
}
