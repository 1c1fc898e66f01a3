package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"researchhive/internal/config"
	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func(ctx context.Context) (*Response, error)

// WithRetry executes fn with exponential backoff and jitter. Returns
// the first success, or ErrMaxRetriesExceeded wrapping the last error
// once the budget is spent. Context cancellation aborts immediately.
func WithRetry(ctx context.Context, cfg config.RetryConfig, operation string, fn RetryableFunc) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.Routing("Retry succeeded for %s on attempt %d", operation, attempt+1)
			}
			return resp, nil
		}
		if errors.Is(err, types.ErrProviderOpen) {
			// Retrying against an open circuit cannot help.
			return nil, err
		}

		lastErr = err
		logging.RoutingWarn("Attempt %d/%d for %s failed: %v", attempt+1, cfg.MaxRetries+1, operation, err)

		if attempt < cfg.MaxRetries {
			backoff := calculateBackoff(cfg, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("%w for %s: %v", types.ErrMaxRetriesExceeded, operation, lastErr)
}

// calculateBackoff computes initial * 2^attempt capped at MaxBackoff,
// with up to 25% random jitter so concurrent retries spread out.
func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := backoff * 0.25 * rand.Float64()
	return time.Duration(backoff + jitter)
}
