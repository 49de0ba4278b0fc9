package budget

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate is a FIFO counting semaphore
type ConcurrencyGate struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// NewConcurrencyGate allows up to limit concurrent holders (minimum 1)
func NewConcurrencyGate(limit int) *ConcurrencyGate {
	if limit < 1 {
		limit = 1
	}
	return &ConcurrencyGate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire blocks until a slot is free or ctx is done
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// Release frees a slot taken by Acquire
func (g *ConcurrencyGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight reports current holders
func (g *ConcurrencyGate) InFlight() int {
	return int(g.inFlight.Load())
}

// Limit reports the configured maximum
func (g *ConcurrencyGate) Limit() int {
	return g.limit
}

// Throttle combines a gate and a limiter for one external service
type Throttle struct {
	Gate    *ConcurrencyGate
	Limiter *Limiter
}

// Do runs fn holding a gate slot and one rate token.
// Either part may be nil to skip it.
func (t *Throttle) Do(ctx context.Context, fn func(context.Context) error) error {
	if t.Gate != nil {
		if err := t.Gate.Acquire(ctx); err != nil {
			return err
		}
		defer t.Gate.Release()
	}
	if t.Limiter != nil {
		if err := t.Limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}
