// Package llm routes text generation across local and cloud providers
// with per-provider circuit breaking and bounded retry.
package llm

import "context"

// Tier selects the capability class of the model used for a call.
type Tier string

const (
	TierDefault Tier = "default" // balanced, the workhorse
	TierMini    Tier = "mini"    // cheap and fast, for classification and queries
	TierFull    Tier = "full"    // strongest available, for synthesis
)

// Request is one generation call.
type Request struct {
	Tier        Tier
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the outcome of a generation call. Truncated is set when
// the provider stopped at the output token limit rather than a natural
// finish.
type Response struct {
	Text       string
	Model      string
	Provider   string
	Truncated  bool
	DurationMs int64
}

// Client is one provider endpoint. Implementations map a Tier to one
// of their models and must honor ctx cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}
