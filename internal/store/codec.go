package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are persisted as little-endian float32 blobs. The same
// encoding is what sqlite-vec expects for vec0 MATCH parameters, so one
// codec serves both the fallback scan and the ANN path.

// encodeEmbedding serializes a vector to its blob form. A nil or empty
// vector encodes to nil, which the schema stores as NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding parses a blob back into a vector.
func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
