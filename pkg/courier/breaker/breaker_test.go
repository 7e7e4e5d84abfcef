package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Unix(1700000000, 0)
	b := New(rdb, Config{FailureThreshold: 3, OpenTimeout: 60 * time.Second, SuccessThreshold: 2})
	b.now = func() time.Time { return now }
	return b, &now
}

func recordFailures(t *testing.T, b *Breaker, code string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, b.RecordFailure(context.Background(), code))
	}
}

func TestBreaker_ClosedByDefault(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	allowed, err := b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.True(t, allowed)

	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, state.Status)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 2)
	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, state.Status)
	assert.Equal(t, 2, state.Failures)

	recordFailures(t, b, "aramex", 1)
	state, err = b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, state.Status)

	allowed, err := b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 2)
	require.NoError(t, b.RecordSuccess(ctx, "aramex"))

	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, state.Status)
	assert.Equal(t, 0, state.Failures)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 3)

	// Still inside the open window.
	*now = now.Add(59 * time.Second)
	allowed, err := b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Past the window: one trial call goes through.
	*now = now.Add(2 * time.Second)
	allowed, err = b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.True(t, allowed)

	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusHalfOpen, state.Status)
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 3)
	*now = now.Add(61 * time.Second)

	allowed, err := b.Allow(ctx, "aramex")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, b.RecordSuccess(ctx, "aramex"))
	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusHalfOpen, state.Status)
	assert.Equal(t, 1, state.Successes)

	require.NoError(t, b.RecordSuccess(ctx, "aramex"))
	state, err = b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, state.Status)

	allowed, err = b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 3)
	openedAt := now.Unix()

	*now = now.Add(61 * time.Second)
	allowed, err := b.Allow(ctx, "aramex")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, b.RecordFailure(ctx, "aramex"))

	state, err := b.State(ctx, "aramex")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, state.Status)
	assert.Greater(t, state.OpenedAt, openedAt, "reopen restarts the open window")

	allowed, err = b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreaker_CouriersAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	recordFailures(t, b, "aramex", 3)

	allowed, err := b.Allow(ctx, "smsa")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = b.Allow(ctx, "aramex")
	require.NoError(t, err)
	assert.False(t, allowed)
}
