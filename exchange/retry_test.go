package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retryable func(error) bool, attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: attempts,
		Backoff: &backoff.Backoff{
			Min:    time.Millisecond,
			Max:    2 * time.Millisecond,
			Factor: 2,
		},
		Retryable: retryable,
	}
}

func TestRetryPolicy_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	policy := fastPolicy(core.IsNotFound, 3)

	err := policy.Do(context.Background(), "get order", func() error {
		calls++
		if calls < 3 {
			return core.NewGatewayError(core.KindNotFound, -2013, "order does not exist")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("invalid api key")
	policy := fastPolicy(core.IsNotFound, 3)

	err := policy.Do(context.Background(), "get order", func() error {
		calls++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	policy := fastPolicy(core.IsNotFound, 2)

	err := policy.Do(context.Background(), "get order", func() error {
		calls++
		return core.NewGatewayError(core.KindNotFound, -2013, "order does not exist")
	})

	require.True(t, core.IsNotFound(err))
	require.Equal(t, 2, calls)
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	policy := fastPolicy(core.IsRateLimit, 5)
	policy.Backoff.Min = time.Minute
	policy.Backoff.Max = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Do(ctx, "place order", func() error {
		return core.NewGatewayError(core.KindRateLimit, -1003, "too many requests")
	})
	require.ErrorIs(t, err, context.Canceled)
}
