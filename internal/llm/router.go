package llm

import (
	"context"
	"fmt"
	"time"

	"researchhive/internal/config"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// candidate is one provider with its guarding breaker.
type candidate struct {
	client  Client
	breaker *CircuitBreaker
	local   bool
}

// Router dispatches generation calls across providers according to the
// configured strategy. Candidate order is deterministic: config order
// within each group, and the strategy fixes which group goes first.
type Router struct {
	strategy   string
	candidates []candidate
	retryCfg   config.RetryConfig
	callBudget time.Duration
}

// newClient builds a provider client from its config entry.
func newClient(cfg config.ProviderConfig) (Client, error) {
	switch cfg.Kind {
	case "ollama":
		return NewOllamaClient(cfg)
	case "gemini":
		return NewGeminiClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider kind %q for %q", cfg.Kind, cfg.Name)
	}
}

// NewRouter creates a router from routing configuration.
func NewRouter(cfg config.RoutingConfig) (*Router, error) {
	r := &Router{
		strategy:   cfg.Strategy,
		retryCfg:   cfg.Retry,
		callBudget: cfg.CallBudget,
	}

	build := func(entries []config.ProviderConfig, local bool) error {
		for _, pc := range entries {
			client, err := newClient(pc)
			if err != nil {
				return err
			}
			r.candidates = append(r.candidates, candidate{
				client:  client,
				breaker: NewCircuitBreaker(pc.Name, cfg.Breaker),
				local:   local,
			})
		}
		return nil
	}

	switch cfg.Strategy {
	case "local-only":
		if err := build(cfg.Local, true); err != nil {
			return nil, err
		}
	case "local-with-cloud-fallback":
		if err := build(cfg.Local, true); err != nil {
			return nil, err
		}
		if err := build(cfg.Cloud, false); err != nil {
			return nil, err
		}
	case "cloud-primary":
		if err := build(cfg.Cloud, false); err != nil {
			return nil, err
		}
		if err := build(cfg.Local, true); err != nil {
			return nil, err
		}
	case "cloud-only":
		if err := build(cfg.Cloud, false); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", cfg.Strategy)
	}

	if len(r.candidates) == 0 {
		return nil, fmt.Errorf("routing strategy %q selected no providers", cfg.Strategy)
	}
	logging.Routing("Router ready: strategy=%s providers=%d", cfg.Strategy, len(r.candidates))
	return r, nil
}

// Complete routes one generation call: each candidate in order gets a
// full retry budget, its breaker mediating every attempt. Roll-over to
// the next candidate happens when a breaker is open or retries are
// exhausted. Returns ErrRoutingExhausted when no candidate served the
// request.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Tier == "" {
		req.Tier = TierDefault
	}

	var lastErr error
	for _, cand := range r.candidates {
		op := fmt.Sprintf("%s/%s", cand.client.Name(), req.Tier)

		resp, err := WithRetry(ctx, r.retryCfg, op, func(ctx context.Context) (*Response, error) {
			if !cand.breaker.Allow() {
				return nil, fmt.Errorf("%s: %w", cand.client.Name(), types.ErrProviderOpen)
			}
			callCtx := ctx
			if r.callBudget > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.callBudget)
				defer cancel()
			}
			resp, err := cand.client.Complete(callCtx, req)
			if err != nil {
				// Timeouts count like any other failure.
				cand.breaker.Failure()
				return nil, err
			}
			cand.breaker.Success()
			return resp, nil
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logging.RoutingWarn("Provider %s unavailable, trying next candidate: %v", cand.client.Name(), err)
	}

	return nil, fmt.Errorf("%w (strategy %s): %v", types.ErrRoutingExhausted, r.strategy, lastErr)
}

// BreakerStates reports each provider's breaker position, in candidate
// order, for the status command.
func (r *Router) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.candidates))
	for _, cand := range r.candidates {
		out[cand.client.Name()] = cand.breaker.State().String()
	}
	return out
}
