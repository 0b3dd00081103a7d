package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/retry"
	"trustline/internal/testkit"
)

func TestDelay_ExponentialAndCapped(t *testing.T) {
	b := retry.Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	require.Equal(t, 100*time.Millisecond, b.Delay(0))
	require.Equal(t, 400*time.Millisecond, b.Delay(2))
	require.Equal(t, time.Second, b.Delay(10))

	b.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestDo_RetriesTransientOnly(t *testing.T) {
	b := retry.Backoff{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("relay: 400 bad request")
	err = b.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestTracker(t *testing.T) {
	clock := testkit.NewClock()
	tr := retry.NewTracker(retry.Backoff{Base: time.Second, Max: time.Minute}, clock.Now)

	require.True(t, tr.Ready("post"))
	require.Equal(t, time.Second, tr.Failed("post"))
	require.False(t, tr.Ready("post"))
	require.True(t, tr.Ready("other"))

	clock.Advance(time.Second)
	require.True(t, tr.Ready("post"))
	require.Equal(t, 2*time.Second, tr.Failed("post"))
	require.Equal(t, 2, tr.Failures("post"))

	tr.Succeeded("post")
	require.True(t, tr.Ready("post"))
	require.Zero(t, tr.Failures("post"))
}
