package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Gate enforces a minimum interval between request starts across all workers.
// Callers serialise only while passing the gate; everything after Wait runs
// concurrently.
type Gate struct {
	turn    chan struct{} // Held by the caller passing the gate
	limiter ratelimit.Limiter
	delay   time.Duration
	last    time.Time

	mu      sync.Mutex
	observe func(time.Time)
}

func NewGate(delay time.Duration) *Gate {
	g := &Gate{
		turn:  make(chan struct{}, 1),
		delay: delay,
	}
	if delay > 0 {
		g.limiter = ratelimit.New(1, ratelimit.Per(delay), ratelimit.WithoutSlack)
	} else {
		g.limiter = ratelimit.NewUnlimited()
	}
	return g
}

// Observe registers a hook called with the time of every gate pass.
func (g *Gate) Observe(fn func(time.Time)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observe = fn
}

// Wait blocks until the caller may start a request. Callers queued behind
// another one return as soon as ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.turn }()

	// Take ignores ctx but blocks for at most one delay
	g.limiter.Take()

	// The limiter schedules against its own timeline; a late wake-up of the
	// previous caller must not shorten the observed gap.
	if !g.last.IsZero() {
		if remaining := g.delay - time.Since(g.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.last = time.Now()

	g.mu.Lock()
	observe := g.observe
	g.mu.Unlock()
	if observe != nil {
		observe(g.last)
	}

	return nil
}
