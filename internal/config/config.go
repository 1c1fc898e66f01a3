// Package config loads and validates the .hive/config.yaml settings
// file. Missing file or missing fields fall back to defaults; a handful
// of environment variables override the file for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the settings tree.
type Config struct {
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Routing   RoutingConfig   `yaml:"routing"`
	Limits    LimitsConfig    `yaml:"limits"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Research  ResearchConfig  `yaml:"research"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RetrievalConfig tunes hybrid search fusion.
type RetrievalConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	TopK           int     `yaml:"top_k"`
	CandidateLimit int     `yaml:"candidate_limit"`
}

// EmbeddingConfig selects and parameterizes the embedding engine.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "ollama" or "gemini"
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// ProviderConfig describes one LLM provider endpoint.
type ProviderConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // "ollama", "gemini" or "openai"
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	// Models per tier. Unset tiers fall back to Default.
	Default string `yaml:"default"`
	Mini    string `yaml:"mini"`
	Full    string `yaml:"full"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// RetryConfig tunes exponential backoff for transient failures.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// RoutingConfig tunes the LLM router.
type RoutingConfig struct {
	Strategy   string           `yaml:"strategy"` // local-only, local-with-cloud-fallback, cloud-primary, cloud-only
	Local      []ProviderConfig `yaml:"local"`
	Cloud      []ProviderConfig `yaml:"cloud"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	CallBudget time.Duration    `yaml:"call_budget"` // hard timeout per LLM call
}

// LimitsConfig sizes the concurrency pools.
type LimitsConfig struct {
	FetchConcurrency     int           `yaml:"fetch_concurrency"`
	PerOriginConcurrency int           `yaml:"per_origin_concurrency"`
	EmbeddingConcurrency int           `yaml:"embedding_concurrency"`
	BrowserConcurrency   int           `yaml:"browser_concurrency"`
	PolitenessDelayMin   time.Duration `yaml:"politeness_delay_min"`
	PolitenessDelayMax   time.Duration `yaml:"politeness_delay_max"`
}

// FetchConfig tunes web acquisition.
type FetchConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RenderTimeout  time.Duration `yaml:"render_timeout"`
}

// ResearchConfig sets job-loop defaults.
type ResearchConfig struct {
	TargetSourceCount int           `yaml:"target_source_count"`
	MaxIterations     int           `yaml:"max_iterations"`
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkOverlap      int           `yaml:"chunk_overlap"`
	PhaseTimeout      time.Duration `yaml:"phase_timeout"`
}

// LoggingConfig mirrors what internal/logging reads for itself; kept
// here so Validate can catch typos in category names early.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

var (
	loaded   *Config
	loadedMu sync.RWMutex
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			SemanticWeight: 0.5,
			KeywordWeight:  0.5,
			TopK:           10,
			CandidateLimit: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 16,
		},
		Routing: RoutingConfig{
			Strategy: "local-only",
			Local: []ProviderConfig{{
				Name:     "ollama",
				Kind:     "ollama",
				Endpoint: "http://localhost:11434",
				Default:  "llama3.1:8b",
				Mini:     "llama3.2:3b",
			}},
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				CoolDown:         30 * time.Second,
			},
			Retry: RetryConfig{
				MaxRetries:     3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
			CallBudget: 2 * time.Minute,
		},
		Limits: LimitsConfig{
			FetchConcurrency:     8,
			PerOriginConcurrency: 2,
			EmbeddingConcurrency: 4,
			BrowserConcurrency:   2,
			PolitenessDelayMin:   500 * time.Millisecond,
			PolitenessDelayMax:   2 * time.Second,
		},
		Fetch: FetchConfig{
			UserAgent:      "researchhive/1.0",
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   8 << 20,
			RenderTimeout:  45 * time.Second,
		},
		Research: ResearchConfig{
			TargetSourceCount: 5,
			MaxIterations:     3,
			ChunkSize:         1200,
			ChunkOverlap:      200,
			PhaseTimeout:      10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".hive", "config.yaml")
}

// Load reads config from the workspace, layers it over defaults, then
// applies environment overrides. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadedMu.Lock()
	loaded = cfg
	loadedMu.Unlock()
	return cfg, nil
}

// Current returns the last loaded config, or defaults when Load has
// not been called.
func Current() *Config {
	loadedMu.RLock()
	defer loadedMu.RUnlock()
	if loaded == nil {
		return Default()
	}
	return loaded
}

// applyEnv overrides a few fields from the environment. Secrets belong
// in env vars, not on disk.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HIVE_GEMINI_API_KEY"); v != "" {
		if cfg.Embedding.Provider == "gemini" {
			cfg.Embedding.APIKey = v
		}
		for i := range cfg.Routing.Cloud {
			if cfg.Routing.Cloud[i].Kind == "gemini" && cfg.Routing.Cloud[i].APIKey == "" {
				cfg.Routing.Cloud[i].APIKey = v
			}
		}
	}
	if v := os.Getenv("HIVE_OLLAMA_ENDPOINT"); v != "" {
		if cfg.Embedding.Provider == "ollama" {
			cfg.Embedding.Endpoint = v
		}
		for i := range cfg.Routing.Local {
			if cfg.Routing.Local[i].Kind == "ollama" {
				cfg.Routing.Local[i].Endpoint = v
			}
		}
	}
	if v := os.Getenv("HIVE_ROUTING_STRATEGY"); v != "" {
		cfg.Routing.Strategy = v
	}
	if v := os.Getenv("HIVE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("HIVE_DEBUG"); v == "1" || v == "true" {
		cfg.Logging.DebugMode = true
	}
}

// Validate rejects configurations the rest of the system cannot honor.
func (c *Config) Validate() error {
	sum := c.Retrieval.SemanticWeight + c.Retrieval.KeywordWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("retrieval weights must sum to 1.0, got %.3f", sum)
	}
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	switch c.Routing.Strategy {
	case "local-only", "local-with-cloud-fallback", "cloud-primary", "cloud-only":
	default:
		return fmt.Errorf("unknown routing strategy %q", c.Routing.Strategy)
	}
	if c.Routing.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive")
	}
	if c.Routing.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must be non-negative")
	}
	if c.Limits.FetchConcurrency <= 0 || c.Limits.PerOriginConcurrency <= 0 ||
		c.Limits.EmbeddingConcurrency <= 0 || c.Limits.BrowserConcurrency <= 0 {
		return fmt.Errorf("all concurrency limits must be positive")
	}
	if c.Limits.PolitenessDelayMax < c.Limits.PolitenessDelayMin {
		return fmt.Errorf("politeness_delay_max must be >= politeness_delay_min")
	}
	if c.Research.MaxIterations <= 0 {
		return fmt.Errorf("research max_iterations must be positive")
	}
	if c.Research.ChunkOverlap >= c.Research.ChunkSize {
		return fmt.Errorf("chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// Save writes the config back to the workspace, creating .hive/ if
// needed. Used by `hive config init`.
func Save(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(Path(workspace))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(Path(workspace), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
