package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"researchhive/internal/config"
	"researchhive/internal/types"
)

// fakeClient counts calls and fails a configured number of times.
type fakeClient struct {
	name      string
	calls     int
	failFirst int  // fail this many calls, then succeed
	alwaysErr bool // never succeed
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.alwaysErr || f.calls <= f.failFirst {
		return nil, fmt.Errorf("%s: simulated failure %d", f.name, f.calls)
	}
	return &Response{Text: "ok from " + f.name, Provider: f.name, Model: string(req.Tier)}, nil
}

func (f *fakeClient) Name() string { return f.name }

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func testRouter(strategy string, clients ...*fakeClient) *Router {
	r := &Router{strategy: strategy, retryCfg: fastRetry()}
	for _, c := range clients {
		r.candidates = append(r.candidates, candidate{
			client:  c,
			breaker: NewCircuitBreaker(c.name, config.BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute}),
		})
	}
	return r
}

func TestRouterUsesFirstHealthyCandidate(t *testing.T) {
	local := &fakeClient{name: "local"}
	cloud := &fakeClient{name: "cloud"}
	r := testRouter("local-with-cloud-fallback", local, cloud)

	resp, err := r.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "local" {
		t.Errorf("expected local provider, got %s", resp.Provider)
	}
	if cloud.calls != 0 {
		t.Errorf("cloud should not be called, got %d calls", cloud.calls)
	}
}

func TestRouterRetriesBeforeFallingBack(t *testing.T) {
	local := &fakeClient{name: "local", failFirst: 2}
	cloud := &fakeClient{name: "cloud"}
	r := testRouter("local-with-cloud-fallback", local, cloud)

	resp, err := r.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Two failures then success, all within local's retry budget.
	if resp.Provider != "local" || local.calls != 3 {
		t.Errorf("expected local after retries (3 calls), got %s after %d", resp.Provider, local.calls)
	}
}

func TestRouterFallsBackWhenPrimaryExhausted(t *testing.T) {
	local := &fakeClient{name: "local", alwaysErr: true}
	cloud := &fakeClient{name: "cloud"}
	r := testRouter("local-with-cloud-fallback", local, cloud)

	resp, err := r.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "cloud" {
		t.Errorf("expected cloud fallback, got %s", resp.Provider)
	}
	// Retry budget is MaxRetries+1 attempts, which also trips the
	// breaker at threshold 3.
	if local.calls != 3 {
		t.Errorf("expected 3 local attempts, got %d", local.calls)
	}
}

func TestRouterSkipsOpenBreaker(t *testing.T) {
	local := &fakeClient{name: "local", alwaysErr: true}
	cloud := &fakeClient{name: "cloud"}
	r := testRouter("local-with-cloud-fallback", local, cloud)

	// First call exhausts local and opens its breaker.
	if _, err := r.Complete(context.Background(), Request{Prompt: "a"}); err != nil {
		t.Fatal(err)
	}
	if r.candidates[0].breaker.State() != BreakerOpen {
		t.Fatalf("local breaker should be open, got %s", r.candidates[0].breaker.State())
	}

	callsBefore := local.calls
	resp, err := r.Complete(context.Background(), Request{Prompt: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "cloud" {
		t.Errorf("expected cloud, got %s", resp.Provider)
	}
	if local.calls != callsBefore {
		t.Errorf("open breaker still let %d calls through", local.calls-callsBefore)
	}
}

func TestRouterExhaustedReturnsSentinel(t *testing.T) {
	local := &fakeClient{name: "local", alwaysErr: true}
	cloud := &fakeClient{name: "cloud", alwaysErr: true}
	r := testRouter("local-with-cloud-fallback", local, cloud)

	_, err := r.Complete(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, types.ErrRoutingExhausted) {
		t.Errorf("expected ErrRoutingExhausted, got %v", err)
	}
}

func TestNewRouterStrategyOrdering(t *testing.T) {
	cfg := config.RoutingConfig{
		Strategy: "cloud-primary",
		Local:    []config.ProviderConfig{{Name: "loc", Kind: "ollama", Default: "m"}},
		Cloud:    []config.ProviderConfig{{Name: "cld", Kind: "ollama", Default: "m"}},
		Breaker:  config.BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute},
		Retry:    fastRetry(),
	}
	r, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if len(r.candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(r.candidates))
	}
	if r.candidates[0].client.Name() != "cld" || r.candidates[1].client.Name() != "loc" {
		t.Errorf("cloud-primary must try cloud first: %s, %s",
			r.candidates[0].client.Name(), r.candidates[1].client.Name())
	}

	cfg.Strategy = "local-only"
	r, err = NewRouter(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.candidates) != 1 || r.candidates[0].client.Name() != "loc" {
		t.Errorf("local-only must select only local providers")
	}

	cfg.Strategy = "cloud-only"
	cfg.Cloud = nil
	if _, err := NewRouter(cfg); err == nil {
		t.Error("strategy with no providers should fail construction")
	}
}

func TestWithRetryExhausts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), "op", func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("nope")
	})
	if !errors.Is(err, types.ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestWithRetryStopsOnOpenProvider(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), "op", func(ctx context.Context) (*Response, error) {
		calls++
		return nil, fmt.Errorf("p: %w", types.ErrProviderOpen)
	})
	if !errors.Is(err, types.ErrProviderOpen) {
		t.Errorf("expected ErrProviderOpen, got %v", err)
	}
	if calls != 1 {
		t.Errorf("open provider should not be retried, got %d attempts", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithRetry(ctx, fastRetry(), "op", func(ctx context.Context) (*Response, error) {
		return nil, errors.New("never reached after cancel")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
