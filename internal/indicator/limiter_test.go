package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := NewSlidingLimiter(3, time.Second, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "first max acquires must not block")
}

func TestLimiterBlocksUntilOldestExits(t *testing.T) {
	window := 200 * time.Millisecond
	l := NewSlidingLimiter(2, window, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	elapsed := time.Since(start)

	// Third acquire waits for the first to age out plus the buffer.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "elapsed %s", elapsed)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestLimiterHonorsContextCancel(t *testing.T) {
	l := NewSlidingLimiter(1, 10*time.Second, 0)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewSlidingLimiter(1, 50*time.Millisecond, 0)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	time.Sleep(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.Less(t, time.Since(start), 40*time.Millisecond, "slot must be free after the window passed")
}
