// Package ingest slices fetched content into chunks and drives them
// through embedding into the session store.
package ingest

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"researchhive/internal/types"
)

// Chunker splits text into overlapping windows. Sizes are in runes so
// multi-byte text does not split mid-character; recorded offsets are
// byte offsets into the original string.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker validates and builds a chunker.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk produces the chunk rows for one source. Empty and
// whitespace-only text yields nothing.
func (c *Chunker) Chunk(sessionID string, src types.Source, text string) []types.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	// Byte offset of each rune, plus one past the end.
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = pos

	step := c.Size - c.Overlap
	var chunks []types.Chunk
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		} else {
			end = snapToBreak(runes, start, end)
		}

		body := strings.TrimSpace(string(runes[start:end]))
		if body != "" {
			chunks = append(chunks, types.Chunk{
				ID:          uuid.NewString(),
				SessionID:   sessionID,
				SourceID:    src.ID,
				SourceType:  src.Type,
				Text:        body,
				StartOffset: offsets[start],
				EndOffset:   offsets[end],
				ChunkIndex:  idx,
				CreatedUTC:  types.NowUTC(),
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// snapToBreak pulls the window end back to the nearest whitespace so
// words stay whole. It only searches the last sixth of the window;
// text with no break there is cut mid-word.
func snapToBreak(runes []rune, start, end int) int {
	floor := end - (end-start)/6
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}
