package retrieval

import (
	"sort"

	"researchhive/internal/types"
)

// Fuse combines the two result lists with weighted min-max fusion.
// Each list's scores are normalized to [0, 1] independently, then a
// chunk's fused score is semanticWeight*sem + keywordWeight*kw, with a
// missing signal contributing 0. Chunks appearing in both lists are
// deduplicated; ties break on chunk id so the order is deterministic.
func Fuse(semantic, keyword []types.ScoredChunk, semanticWeight, keywordWeight float64) []types.ScoredChunk {
	semNorm := normalize(semantic)
	kwNorm := normalize(keyword)

	type fusedEntry struct {
		chunk types.Chunk
		score float64
	}
	merged := make(map[string]*fusedEntry, len(semantic)+len(keyword))

	for i, r := range semantic {
		merged[r.Chunk.ID] = &fusedEntry{chunk: r.Chunk, score: semanticWeight * semNorm[i]}
	}
	for i, r := range keyword {
		contrib := keywordWeight * kwNorm[i]
		if entry, ok := merged[r.Chunk.ID]; ok {
			entry.score += contrib
		} else {
			merged[r.Chunk.ID] = &fusedEntry{chunk: r.Chunk, score: contrib}
		}
	}

	out := make([]types.ScoredChunk, 0, len(merged))
	for _, entry := range merged {
		out = append(out, types.ScoredChunk{Chunk: entry.chunk, Score: entry.score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// normalize min-max scales a list's scores to [0, 1]. When all scores
// are equal every entry maps to 1.0: a signal that matched at all
// should contribute its full weight rather than vanish.
func normalize(results []types.ScoredChunk) []float64 {
	if len(results) == 0 {
		return nil
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	norm := make([]float64, len(results))
	if max == min {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i, r := range results {
		norm[i] = (r.Score - min) / (max - min)
	}
	return norm
}
