package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock only moves when the test advances it; After channels fire
// immediately with the waited-for instant, simulating the wait elapsing.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *manualClock) Sleep(time.Duration) {}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiterTryAcquire(t *testing.T) {
	clock := newManualClock()
	l := newWindowLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire(), "slot %d", i)
	}
	assert.False(t, l.TryAcquire(), "window is full")

	clock.advance(time.Minute + time.Second)
	assert.True(t, l.TryAcquire(), "slots free after the window rolls")
}

func TestLimiterRollingWindow(t *testing.T) {
	clock := newManualClock()
	l := newWindowLimiter(2, time.Minute, clock)

	require.True(t, l.TryAcquire()) // t=0
	clock.advance(30 * time.Second)
	require.True(t, l.TryAcquire()) // t=30s
	require.False(t, l.TryAcquire())

	// 31s later the first start has rolled out, the second has not.
	clock.advance(31 * time.Second)
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestLimiterWaitBlocksUntilSlotFrees(t *testing.T) {
	clock := newManualClock()
	l := newWindowLimiter(2, time.Minute, clock)
	start := clock.Now()

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	// Third start must wait out the window; the manual clock jumps exactly
	// the reported wait, so the elapsed time equals one full window.
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, time.Minute, clock.Now().Sub(start))
}

// stuckClock never fires After, forcing Wait to stay blocked on the
// context branch.
type stuckClock struct{ *manualClock }

func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := newWindowLimiter(1, time.Hour, stuckClock{newManualClock()})
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestLimiterDisabled(t *testing.T) {
	l := newWindowLimiter(0, time.Minute, newManualClock())
	for i := 0; i < 1000; i++ {
		require.True(t, l.TryAcquire())
	}
	assert.NoError(t, l.Wait(context.Background()))

	var nilLimiter *WindowLimiter
	assert.True(t, nilLimiter.TryAcquire())
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}
