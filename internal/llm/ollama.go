package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"researchhive/internal/config"
)

// OllamaClient generates text against a local Ollama server.
type OllamaClient struct {
	name     string
	endpoint string
	models   map[Tier]string
	client   *http.Client
}

// NewOllamaClient creates a client from one provider config entry.
// Tiers without a configured model fall back to the default model.
func NewOllamaClient(cfg config.ProviderConfig) (*OllamaClient, error) {
	if cfg.Default == "" {
		return nil, fmt.Errorf("ollama provider %q needs a default model", cfg.Name)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	models := map[Tier]string{
		TierDefault: cfg.Default,
		TierMini:    cfg.Default,
		TierFull:    cfg.Default,
	}
	if cfg.Mini != "" {
		models[TierMini] = cfg.Mini
	}
	if cfg.Full != "" {
		models[TierFull] = cfg.Full
	}
	return &OllamaClient{
		name:     cfg.Name,
		endpoint: endpoint,
		models:   models,
		// No client timeout; per-call budgets come in through ctx.
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return c.name
}

// Complete generates text with the model mapped to the request tier.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.models[req.Tier]
	if model == "" {
		model = c.models[TierDefault]
	}

	genReq := ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	}
	if req.Temperature > 0 {
		genReq.Options.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		genReq.Options.NumPredict = req.MaxTokens
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &Response{
		Text:       result.Response,
		Model:      model,
		Provider:   c.name,
		Truncated:  result.DoneReason == "length",
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

type ollamaGenerateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	System  string `json:"system,omitempty"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}
