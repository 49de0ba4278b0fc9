package googleauth

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

// DefaultRetryAfter is the back-off after a 429 that carried no Retry-After
const DefaultRetryAfter = 60 * time.Second

// maxRateLimitRetries bounds how often Call re-issues a 429'd request
const maxRateLimitRetries = 3

// RateLimiter is a token bucket shared by all Google calls, with a pause
// window set whenever Google answers 429.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a limiter. Drive allows 10 requests/sec/user.
func NewRateLimiter(cfg am.GoogleConfig) *RateLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request may be sent, honoring any 429 pause first
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}

// RecordRateLimitError pauses all callers for retryAfter (0 = DefaultRetryAfter)
func (r *RateLimiter) RecordRateLimitError(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(retryAfter); until.After(r.retryAt) {
		r.retryAt = until
	}
}

// Allow reports whether a request could go out right now
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()
	if time.Now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}

// Call runs fn under the limiter, retrying when Google rate-limits it
func Call[T any](ctx context.Context, r *RateLimiter, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if r != nil {
			if err := r.Wait(ctx); err != nil {
				return zero, err
			}
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		if !IsRateLimited(err) || r == nil || attempt >= maxRateLimitRetries {
			return zero, WrapError(err)
		}
		r.RecordRateLimitError(retryAfter(err))
	}
}

func retryAfter(err error) time.Duration {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Header != nil {
		if secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// IsRateLimited reports a 429 from a Google API
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}

// WrapError maps Google API failures onto intake's sentinels
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusNotFound:
		return errors.Wrap(errors.Mark(err, errors.ErrNotFound), "google: resource not found")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.WithHint(errors.Wrap(err, "google: access denied"),
			"share the sheet or file with the configured Google account")
	case http.StatusTooManyRequests:
		return errors.Wrap(errors.Mark(err, errors.ErrServiceUnavailable), "google: rate limit exceeded")
	default:
		return err
	}
}
