package llm

import (
	"sync"
	"time"

	"researchhive/internal/config"
	"researchhive/internal/logging"
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker guards one provider. Closed passes calls through and
// counts consecutive failures; at the threshold it opens and rejects
// calls until the cool-down elapses, then admits exactly one probe in
// half-open. The probe's outcome closes or re-opens the circuit.
// Timeouts count as failures like any other error.
type CircuitBreaker struct {
	name      string
	threshold int
	coolDown  time.Duration

	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	probing    bool
	now        func() time.Time // swapped in tests
}

// NewCircuitBreaker creates a breaker for one named provider.
func NewCircuitBreaker(name string, cfg config.BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: cfg.FailureThreshold,
		coolDown:  cfg.CoolDown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In half-open only one
// in-flight probe is admitted; the caller must report the outcome via
// Success or Failure.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.coolDown {
			b.state = BreakerHalfOpen
			b.probing = true
			logging.Routing("Breaker %s: open -> half-open, admitting probe", b.name)
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful call.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		logging.Routing("Breaker %s: probe succeeded, closing circuit", b.name)
	}
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed call.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		// Failed probe re-opens and restarts the cool-down.
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probing = false
		logging.RoutingWarn("Breaker %s: probe failed, re-opening", b.name)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			logging.RoutingWarn("Breaker %s: opened after %d consecutive failures", b.name, b.failures)
		}
	}
}

// State returns the current position for diagnostics.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
