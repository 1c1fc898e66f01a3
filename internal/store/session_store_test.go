package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"researchhive/internal/types"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := NewSessionStore(path, "sess-1")
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestSource(t *testing.T, s *SessionStore, id string, typ types.SourceType) {
	t.Helper()
	err := s.AddSource(&types.Source{
		ID:    id,
		Type:  typ,
		URL:   "https://example.com/" + id,
		Title: "source " + id,
	})
	if err != nil {
		t.Fatalf("AddSource(%s): %v", id, err)
	}
}

func TestAddAndGetChunks(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-1", types.SourceWebSnapshot)

	chunks := []types.Chunk{
		{ID: "c1", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 0,
			StartOffset: 0, EndOffset: 20, Text: "solid state batteries use ceramic electrolytes"},
		{ID: "c2", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 1,
			StartOffset: 20, EndOffset: 40, Text: "lithium metal anodes raise energy density"},
	}
	if err := s.AddChunks(chunks); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}

	got, err := s.GetChunk("c2")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got.Text != chunks[1].Text || got.ChunkIndex != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("expected session id stamped, got %q", got.SessionID)
	}

	if _, err := s.GetChunk("nope"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKeywordSearchRanksAndFilters(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-web", types.SourceWebSnapshot)
	addTestSource(t, s, "src-doc", types.SourceArtifact)

	err := s.AddChunks([]types.Chunk{
		{ID: "k1", SourceID: "src-web", SourceType: types.SourceWebSnapshot, ChunkIndex: 0,
			Text: "graphene conductivity exceeds copper at room temperature"},
		{ID: "k2", SourceID: "src-web", SourceType: types.SourceWebSnapshot, ChunkIndex: 1,
			Text: "copper wiring remains standard in construction"},
		{ID: "k3", SourceID: "src-doc", SourceType: types.SourceArtifact, ChunkIndex: 0,
			Text: "graphene production costs are falling"},
	})
	if err != nil {
		t.Fatalf("AddChunks: %v", err)
	}

	results, err := s.KeywordSearch(context.Background(), "graphene conductivity", 10, types.SearchFilter{})
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected keyword hits")
	}
	if results[0].Chunk.ID != "k1" {
		t.Errorf("expected k1 ranked first, got %s", results[0].Chunk.ID)
	}

	// Type filter restricts results.
	filtered, err := s.KeywordSearch(context.Background(), "graphene", 10,
		types.SearchFilter{SourceTypes: []types.SourceType{types.SourceArtifact}})
	if err != nil {
		t.Fatalf("filtered KeywordSearch: %v", err)
	}
	for _, r := range filtered {
		if r.Chunk.SourceType != types.SourceArtifact {
			t.Errorf("filter leaked source type %s", r.Chunk.SourceType)
		}
	}
}

func TestKeywordSearchSurvivesPunctuation(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-1", types.SourceWebSnapshot)
	err := s.AddChunks([]types.Chunk{
		{ID: "p1", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 0,
			Text: "the nature of dark matter is unknown"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// FTS operator characters in user input must not cause a syntax
	// error.
	for _, q := range []string{`dark AND NOT matter"`, `dark* (matter)`, `"`} {
		if _, err := s.KeywordSearch(context.Background(), q, 10, types.SearchFilter{}); err != nil {
			t.Errorf("query %q returned error: %v", q, err)
		}
	}
}

func TestSemanticSearchScan(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-1", types.SourceWebSnapshot)

	err := s.AddChunks([]types.Chunk{
		{ID: "v1", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 0,
			Text: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: "v2", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 1,
			Text: "beta", Embedding: []float32{0, 1, 0}},
		{ID: "v3", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 2,
			Text: "gamma"}, // no embedding, must be skipped
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := s.SemanticSearch(context.Background(), []float32{1, 0, 0}, 10, types.SearchFilter{})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 embedded chunks, got %d", len(results))
	}
	if results[0].Chunk.ID != "v1" {
		t.Errorf("expected v1 most similar, got %s", results[0].Chunk.ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v >= %v wanted", results[0].Score, results[1].Score)
	}
}

func TestAttachEmbeddings(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-1", types.SourceWebSnapshot)
	err := s.AddChunks([]types.Chunk{
		{ID: "e1", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 0, Text: "pending"},
	})
	if err != nil {
		t.Fatal(err)
	}

	missing, err := s.ChunksMissingEmbeddings(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0].ID != "e1" {
		t.Fatalf("expected e1 pending embedding, got %+v", missing)
	}

	if err := s.AttachEmbeddings(map[string][]float32{"e1": {0.5, 0.5}}); err != nil {
		t.Fatalf("AttachEmbeddings: %v", err)
	}
	missing, err = s.ChunksMissingEmbeddings(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no pending chunks, got %d", len(missing))
	}

	got, err := s.GetChunk("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Embedding) != 2 {
		t.Errorf("embedding not persisted: %v", got.Embedding)
	}
}

func TestDeleteSourceCascades(t *testing.T) {
	s := newTestStore(t)
	addTestSource(t, s, "src-1", types.SourceWebSnapshot)
	addTestSource(t, s, "src-2", types.SourceWebSnapshot)

	err := s.AddChunks([]types.Chunk{
		{ID: "d1", SourceID: "src-1", SourceType: types.SourceWebSnapshot, ChunkIndex: 0, Text: "doomed chunk"},
		{ID: "d2", SourceID: "src-2", SourceType: types.SourceWebSnapshot, ChunkIndex: 0, Text: "surviving chunk"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Seed a job so citations can reference it.
	if err := s.CreateJob(&types.ResearchJob{ID: "job-1", Type: types.JobResearch, Prompt: "q", MaxIterations: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCitation(&types.Citation{
		ID: "cit-1", JobID: "job-1", Type: types.SourceWebSnapshot,
		SourceID: "src-1", ChunkID: "d1", Excerpt: "doomed", Label: "[1]",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSource("src-1"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}

	if _, err := s.GetChunk("d1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("chunk should cascade away, got %v", err)
	}
	if _, err := s.GetCitation("cit-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("citation should be pruned, got %v", err)
	}
	// FTS index entry is gone too: no hits for the deleted text.
	hits, err := s.KeywordSearch(context.Background(), "doomed", 10, types.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted chunk still searchable: %+v", hits)
	}
	if _, err := s.GetChunk("d2"); err != nil {
		t.Errorf("unrelated chunk lost: %v", err)
	}
}

func TestFindSourceByHash(t *testing.T) {
	s := newTestStore(t)
	err := s.AddSource(&types.Source{ID: "h1", Type: types.SourceArtifact, Title: "doc", ContentHash: "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.FindSourceByHash("abc123")
	if err != nil {
		t.Fatalf("FindSourceByHash: %v", err)
	}
	if got.ID != "h1" {
		t.Errorf("wrong source: %+v", got)
	}
	if _, err := s.FindSourceByHash("missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChunksForPromotion(t *testing.T) {
	s := newTestStore(t)
	for _, src := range []string{"src-a", "src-b"} {
		if err := s.AddSource(&types.Source{ID: src, Type: types.SourceWebSnapshot, Title: src}); err != nil {
			t.Fatal(err)
		}
	}
	err := s.AddChunks([]types.Chunk{
		{ID: "pb0", SourceID: "src-b", SourceType: types.SourceWebSnapshot, ChunkIndex: 0, Text: "b zero"},
		{ID: "pa1", SourceID: "src-a", SourceType: types.SourceWebSnapshot, ChunkIndex: 1, Text: "a one"},
		{ID: "pa0", SourceID: "src-a", SourceType: types.SourceWebSnapshot, ChunkIndex: 0, Text: "a zero"},
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := s.ChunksForPromotion("")
	if err != nil {
		t.Fatalf("ChunksForPromotion: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(all))
	}
	order := []string{all[0].ID, all[1].ID, all[2].ID}
	want := []string{"pa0", "pa1", "pb0"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("wrong order: %v", order)
		}
	}

	only, err := s.ChunksForPromotion("src-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].ID != "pb0" {
		t.Errorf("source filter broken: %+v", only)
	}
}
