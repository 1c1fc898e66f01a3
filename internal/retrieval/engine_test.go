package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"researchhive/internal/config"
	"researchhive/internal/types"
)

func chunk(id string) types.Chunk {
	return types.Chunk{ID: id, SourceID: "src", SourceType: types.SourceWebSnapshot, Text: id}
}

func scored(id string, score float64) types.ScoredChunk {
	return types.ScoredChunk{Chunk: chunk(id), Score: score}
}

// fakeSource returns canned results per signal.
type fakeSource struct {
	keyword     []types.ScoredChunk
	keywordErr  error
	semantic    []types.ScoredChunk
	semanticErr error
}

func (f *fakeSource) KeywordSearch(ctx context.Context, query string, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	return f.keyword, f.keywordErr
}

func (f *fakeSource) SemanticSearch(ctx context.Context, queryVec []float32, limit int, filter types.SearchFilter) ([]types.ScoredChunk, error) {
	return f.semantic, f.semanticErr
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func testCfg() config.RetrievalConfig {
	return config.RetrievalConfig{SemanticWeight: 0.5, KeywordWeight: 0.5, TopK: 10, CandidateLimit: 50}
}

func TestFuseNormalizesAndWeights(t *testing.T) {
	semantic := []types.ScoredChunk{scored("a", 0.9), scored("b", 0.5), scored("c", 0.1)}
	keyword := []types.ScoredChunk{scored("b", 12.0), scored("d", 4.0)}

	fused := Fuse(semantic, keyword, 0.5, 0.5)

	byID := map[string]float64{}
	for _, r := range fused {
		byID[r.Chunk.ID] = r.Score
	}
	// a: semantic only, normalized to 1.0 -> 0.5.
	if math.Abs(byID["a"]-0.5) > 1e-9 {
		t.Errorf("a: got %v, want 0.5", byID["a"])
	}
	// b: semantic (0.5-0.1)/(0.9-0.1)=0.5 -> 0.25, keyword max -> 0.5; total 0.75.
	if math.Abs(byID["b"]-0.75) > 1e-9 {
		t.Errorf("b: got %v, want 0.75", byID["b"])
	}
	// c: semantic min -> 0. d: keyword min -> 0.
	if byID["c"] != 0 || byID["d"] != 0 {
		t.Errorf("min entries should score 0: c=%v d=%v", byID["c"], byID["d"])
	}
	// b fused once, not duplicated.
	if len(fused) != 4 {
		t.Errorf("expected 4 unique chunks, got %d", len(fused))
	}
	// Best first.
	if fused[0].Chunk.ID != "b" {
		t.Errorf("expected b ranked first, got %s", fused[0].Chunk.ID)
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	semantic := []types.ScoredChunk{scored("x", 1), scored("y", 1)}
	keyword := []types.ScoredChunk{scored("z", 1)}

	first := Fuse(semantic, keyword, 0.5, 0.5)
	for i := 0; i < 10; i++ {
		again := Fuse(semantic, keyword, 0.5, 0.5)
		if len(again) != len(first) {
			t.Fatal("length varies across runs")
		}
		for j := range first {
			if again[j].Chunk.ID != first[j].Chunk.ID || again[j].Score != first[j].Score {
				t.Fatalf("run %d differs at %d: %v vs %v", i, j, again[j], first[j])
			}
		}
	}
}

func TestFuseUniformScoresNormalizeToOne(t *testing.T) {
	keyword := []types.ScoredChunk{scored("a", 3.3), scored("b", 3.3)}
	fused := Fuse(nil, keyword, 0.5, 0.5)
	for _, r := range fused {
		if math.Abs(r.Score-0.5) > 1e-9 {
			t.Errorf("%s: got %v, want 0.5", r.Chunk.ID, r.Score)
		}
	}
}

func TestSearchMergesBothSignals(t *testing.T) {
	src := &fakeSource{
		keyword:  []types.ScoredChunk{scored("k", 5)},
		semantic: []types.ScoredChunk{scored("s", 0.9)},
	}
	e := NewEngine(src, &fakeEmbedder{}, testCfg())

	results, err := e.Search(context.Background(), "query", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestSearchDegradesWhenSemanticFails(t *testing.T) {
	src := &fakeSource{
		keyword: []types.ScoredChunk{scored("k1", 5), scored("k2", 2)},
	}
	e := NewEngine(src, &fakeEmbedder{err: errors.New("model down")}, testCfg())

	results, err := e.Search(context.Background(), "query", Options{})
	if err != nil {
		t.Fatalf("degraded search should succeed: %v", err)
	}
	if len(results) != 2 || results[0].Chunk.ID != "k1" {
		t.Errorf("keyword-only results wrong: %+v", results)
	}
}

func TestSearchDegradesWithoutEmbedder(t *testing.T) {
	src := &fakeSource{keyword: []types.ScoredChunk{scored("k", 1)}}
	e := NewEngine(src, nil, testCfg())

	results, err := e.Search(context.Background(), "query", Options{})
	if err != nil {
		t.Fatalf("nil embedder should degrade, not fail: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected one keyword hit, got %d", len(results))
	}
}

func TestSearchFailsWhenBothSignalsFail(t *testing.T) {
	src := &fakeSource{
		keywordErr:  errors.New("fts broken"),
		semanticErr: errors.New("vectors broken"),
	}
	e := NewEngine(src, &fakeEmbedder{}, testCfg())

	if _, err := e.Search(context.Background(), "query", Options{}); err == nil {
		t.Error("total signal failure must return an error")
	}
}

func TestSearchHonorsTopK(t *testing.T) {
	var keyword []types.ScoredChunk
	for i := 0; i < 20; i++ {
		keyword = append(keyword, scored(string(rune('a'+i)), float64(20-i)))
	}
	src := &fakeSource{keyword: keyword}
	e := NewEngine(src, nil, testCfg())

	results, err := e.Search(context.Background(), "query", Options{TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}
