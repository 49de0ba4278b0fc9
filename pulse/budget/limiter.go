// Package budget throttles calls to metered external services.
//
// A Limiter is a token bucket: capacity tokens, refilled at perWindow tokens
// per window, initially full. A ConcurrencyGate caps in-flight calls. Callers
// take the gate first and the token second, so a task never sits on a token
// while waiting for a slot.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/intake/errors"
)

// Clock abstracts time so limiter waits can be tested without sleeping
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Limiter is a token bucket with exact waits
type Limiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	clock     Clock
	perWindow int
	window    time.Duration
	capacity  int
}

// NewLimiter creates a limiter refilling perWindow tokens every window.
// capacity <= 0 means capacity = perWindow.
func NewLimiter(perWindow int, window time.Duration, capacity int) *Limiter {
	return NewLimiterWithClock(perWindow, window, capacity, realClock{})
}

// NewLimiterWithClock creates a limiter with an injectable clock (for testing)
func NewLimiterWithClock(perWindow int, window time.Duration, capacity int, clock Clock) *Limiter {
	if capacity <= 0 {
		capacity = perWindow
	}
	return &Limiter{
		limiter:   rate.NewLimiter(refillRate(perWindow, window), capacity),
		clock:     clock,
		perWindow: perWindow,
		window:    window,
		capacity:  capacity,
	}
}

func refillRate(perWindow int, window time.Duration) rate.Limit {
	if perWindow <= 0 || window <= 0 {
		return 0
	}
	return rate.Limit(float64(perWindow) / window.Seconds())
}

// Acquire takes one token, waiting exactly as long as the refill requires.
// On cancellation the reserved token is returned to the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	if !r.OK() {
		err := errors.Newf("rate limiter cannot grant a token (capacity %d)", l.capacity)
		return errors.WithDetail(err, fmt.Sprintf("Rate: %d per %s", l.perWindow, l.window))
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-l.clock.After(delay):
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		r.CancelAt(l.clock.Now())
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Allow takes a token only if one is available right now
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.AllowN(l.clock.Now(), 1)
}

// Tokens reports the tokens currently available (negative while reservations wait)
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.TokensAt(l.clock.Now())
}

// SetRate changes refill and capacity in place, keeping accumulated tokens.
// Used when configuration is reloaded while jobs are scoring.
func (l *Limiter) SetRate(perWindow int, window time.Duration, capacity int) {
	if capacity <= 0 {
		capacity = perWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.limiter.SetLimitAt(now, refillRate(perWindow, window))
	l.limiter.SetBurstAt(now, capacity)
	l.perWindow = perWindow
	l.window = window
	l.capacity = capacity
}

// Stats returns the configured rate
func (l *Limiter) Stats() (perWindow int, window time.Duration, capacity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perWindow, l.window, l.capacity
}
