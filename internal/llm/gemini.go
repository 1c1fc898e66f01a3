package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"researchhive/internal/config"
)

// GeminiClient generates text against the Gemini API.
type GeminiClient struct {
	name   string
	client *genai.Client
	models map[Tier]string
}

// NewGeminiClient creates a client from one provider config entry.
func NewGeminiClient(cfg config.ProviderConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider %q needs an API key", cfg.Name)
	}
	if cfg.Default == "" {
		return nil, fmt.Errorf("gemini provider %q needs a default model", cfg.Name)
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
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
	return &GeminiClient{name: cfg.Name, client: client, models: models}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return c.name
}

// Complete generates text with the model mapped to the request tier.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.models[req.Tier]
	if model == "" {
		model = c.models[TierDefault]
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}
	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}
	truncated := len(result.Candidates) > 0 &&
		result.Candidates[0].FinishReason == genai.FinishReasonMaxTokens
	return &Response{
		Text:       text,
		Model:      model,
		Provider:   c.name,
		Truncated:  truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
