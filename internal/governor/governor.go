// Package governor implements a bounded-concurrency permit pool with FIFO
// admission. It backs the runtime's concurrent mapping primitive and can be
// shared across runtimes as a global limiter for model calls.
// Thread-safe. No background goroutines; permits are handed off on Release.
package governor

import (
	"context"
	"sync"
)

// Governor is a fixed-size pool of execution permits. Acquirers beyond the
// limit queue in FIFO order; Release hands the permit directly to the oldest
// waiter so a queued acquirer is never starved while a permit is available.
type Governor struct {
	mu      sync.Mutex
	limit   int
	held    int
	waiters []chan struct{}
}

// New creates a Governor with the given permit limit. Limits below 1 are
// clamped to 1.
func New(limit int) *Governor {
	if limit < 1 {
		limit = 1
	}
	return &Governor{limit: limit}
}

// Acquire blocks until a permit is available or the context is done.
// On success the caller must eventually call Release, even if the work
// it guarded failed.
func (g *Governor) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.held < g.limit {
		g.held++
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ch {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		// Not in the queue: the permit was handed to us while we were
		// cancelling. Pass it on so it is not leaked.
		g.releaseLocked()
		g.mu.Unlock()
		return ctx.Err()
	}
}

// TryAcquire takes a permit without blocking. Returns false when the pool
// is exhausted.
func (g *Governor) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held < g.limit {
		g.held++
		return true
	}
	return false
}

// Release returns a permit. If waiters are queued, the permit transfers to
// the oldest one without touching the held count.
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
}

func (g *Governor) releaseLocked() {
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(ch)
		return
	}
	if g.held > 0 {
		g.held--
	}
}

// InFlight reports the number of permits currently held.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Limit reports the configured permit ceiling.
func (g *Governor) Limit() int {
	return g.limit
}

// Waiting reports the number of queued acquirers.
func (g *Governor) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
