// Package exchange holds gateway-side helpers shared by concrete
// exchange implementations.
package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raykavin/trailflow/core"
)

// RetryPolicy retries an operation on transient gateway errors with
// exponential backoff. The policy is stateless between calls: the
// backoff is reset at the start of every Do.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     *backoff.Backoff
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	Log       core.Logger
}

// RateLimitPolicy retries rate-limited calls once after a cooldown.
func RateLimitPolicy(log core.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		Backoff: &backoff.Backoff{
			Min:    5 * time.Second,
			Max:    30 * time.Second,
			Factor: 2,
		},
		Retryable: core.IsRateLimit,
		Log:       log,
	}
}

// NotFoundPolicy retries lookups that race order propagation at the
// exchange.
func NotFoundPolicy(log core.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Backoff: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2,
		},
		Retryable: core.IsNotFound,
		Log:       log,
	}
}

// Do runs fn until it succeeds, the error is not retryable, attempts
// run out or the context is done.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	if p.Backoff != nil {
		p.Backoff.Reset()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt >= p.MaxAttempts {
			return err
		}

		wait := time.Second
		if p.Backoff != nil {
			wait = p.Backoff.Duration()
		}
		if p.Log != nil {
			p.Log.WithError(err).Warnf("%s failed, retrying in %s (attempt %d/%d)",
				op, wait, attempt, p.MaxAttempts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
