// Package sched bounds concurrency through weighted semaphores. Every
// outbound fetch, embedding call, and browser render passes through a
// pool here; nothing else in the system spawns unbounded work.
package sched

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"researchhive/internal/config"
	"researchhive/internal/logging"
)

// Metrics counts pool activity with atomics, read by the status
// command.
type Metrics struct {
	FetchAcquired     atomic.Int64
	EmbeddingAcquired atomic.Int64
	BrowserAcquired   atomic.Int64
	PolitenessWaits   atomic.Int64
}

// Pools holds the process-wide concurrency limits.
type Pools struct {
	fetch     *semaphore.Weighted
	embedding *semaphore.Weighted
	browser   *semaphore.Weighted

	originMu     sync.Mutex
	origins      map[string]*semaphore.Weighted
	perOrigin    int64
	politeMin    time.Duration
	politeJitter time.Duration

	Metrics Metrics
}

// NewPools builds pools from the limits config.
func NewPools(cfg config.LimitsConfig) *Pools {
	return &Pools{
		fetch:        semaphore.NewWeighted(int64(cfg.FetchConcurrency)),
		embedding:    semaphore.NewWeighted(int64(cfg.EmbeddingConcurrency)),
		browser:      semaphore.NewWeighted(int64(cfg.BrowserConcurrency)),
		origins:      make(map[string]*semaphore.Weighted),
		perOrigin:    int64(cfg.PerOriginConcurrency),
		politeMin:    cfg.PolitenessDelayMin,
		politeJitter: cfg.PolitenessDelayMax - cfg.PolitenessDelayMin,
	}
}

func (p *Pools) originSem(origin string) *semaphore.Weighted {
	p.originMu.Lock()
	defer p.originMu.Unlock()
	sem, ok := p.origins[origin]
	if !ok {
		sem = semaphore.NewWeighted(p.perOrigin)
		p.origins[origin] = sem
	}
	return sem
}

// AcquireFetch blocks for a global fetch slot, then a per-origin slot,
// then sleeps a randomized politeness delay. The returned release
// function must be called exactly once. Cancellation during any phase
// releases what was already held.
func (p *Pools) AcquireFetch(ctx context.Context, origin string) (func(), error) {
	if err := p.fetch.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sem := p.originSem(origin)
	if err := sem.Acquire(ctx, 1); err != nil {
		p.fetch.Release(1)
		return nil, err
	}

	// Politeness delay spreads requests to the same origin.
	delay := p.politeMin
	if p.politeJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.politeJitter)))
	}
	if delay > 0 {
		p.Metrics.PolitenessWaits.Add(1)
		select {
		case <-ctx.Done():
			sem.Release(1)
			p.fetch.Release(1)
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	p.Metrics.FetchAcquired.Add(1)
	logging.Sched("fetch slot acquired for origin %s (delay %v)", origin, delay)
	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			p.fetch.Release(1)
		})
	}, nil
}

// AcquireEmbedding blocks for an embedding slot.
func (p *Pools) AcquireEmbedding(ctx context.Context) (func(), error) {
	if err := p.embedding.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.Metrics.EmbeddingAcquired.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { p.embedding.Release(1) })
	}, nil
}

// AcquireBrowser blocks for a browser render slot.
func (p *Pools) AcquireBrowser(ctx context.Context) (func(), error) {
	if err := p.browser.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.Metrics.BrowserAcquired.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { p.browser.Release(1) })
	}, nil
}
