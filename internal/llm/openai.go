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

// OpenAIClient talks to the OpenAI chat-completions API or any
// compatible endpoint (Azure, vLLM, llama.cpp server).
type OpenAIClient struct {
	name    string
	baseURL string
	apiKey  string
	models  map[Tier]string
	client  *http.Client
}

// NewOpenAIClient creates a client from one provider config entry.
// Tiers without a configured model fall back to the default model.
func NewOpenAIClient(cfg config.ProviderConfig) (*OpenAIClient, error) {
	if cfg.Default == "" {
		return nil, fmt.Errorf("openai provider %q needs a default model", cfg.Name)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %q needs an api key", cfg.Name)
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
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
	return &OpenAIClient{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  models,
		// No client timeout; per-call budgets come in through ctx.
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Complete generates text with the model mapped to the request tier.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.models[req.Tier]
	if model == "" {
		model = c.models[TierDefault]
	}

	chatReq := chatCompletionRequest{Model: model}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	choice := result.Choices[0]
	return &Response{
		Text:       choice.Message.Content,
		Model:      model,
		Provider:   c.name,
		Truncated:  choice.FinishReason == "length",
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}
