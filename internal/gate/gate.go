// Package gate bounds the number of mutating requests a store has in flight.
package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultPermits is the permit count used when none is configured.
const DefaultPermits = 4

// Gate is a counting permit pool with optional request pacing.
// It is safe for concurrent use.
type Gate struct {
	sem     *semaphore.Weighted
	permits int
	limiter *rate.Limiter
}

// Option configures the gate.
type Option func(*Gate)

// WithRate paces requests to r per second on top of the permit bound.
// A zero or negative r leaves pacing disabled.
func WithRate(r float64) Option {
	return func(g *Gate) {
		if r > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(r), 1)
		}
	}
}

// New creates a gate with the given number of permits (DefaultPermits when below 1).
func New(permits int, opts ...Option) *Gate {
	if permits < 1 {
		permits = DefaultPermits
	}

	g := &Gate{
		sem:     semaphore.NewWeighted(int64(permits)),
		permits: permits,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Permits returns the number of permits.
func (g *Gate) Permits() int {
	return g.permits
}

// Do runs fn while holding one permit. The permit is released when fn returns,
// whatever the outcome. It returns early if ctx is done before a permit frees up.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	defer g.sem.Release(1)

	return fn(ctx)
}
