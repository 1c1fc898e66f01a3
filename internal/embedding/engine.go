// Package embedding generates vector embeddings for semantic search.
// Two backends: Ollama (local) and Google Gemini (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"

	"researchhive/internal/config"
	"researchhive/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name returns the engine name for logs and diagnostics.
	Name() string
}

// HealthChecker is implemented by engines that can verify their
// backend is reachable before batch work starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine: provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.Endpoint, cfg.Model, cfg.Dimensions)
	case "gemini":
		return NewGeminiEngine(cfg.APIKey, cfg.Model)
	default:
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'gemini')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two
// vectors. Returns a value in [-1, 1]; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		magA += float64(a[i] * a[i])
		magB += float64(b[i] * b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
