package worker

import (
	"context"
	"sync"
	"time"

	"github.com/solswap/engine/pkg/util"
)

// WindowLimiter caps how many job starts may happen per rolling window.
// It delays callers, never rejects them.
type WindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	starts []time.Time
	clock  util.Clock
}

// NewWindowLimiter allows max starts per window. max <= 0 disables limiting.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return newWindowLimiter(max, window, util.RealClock{})
}

func newWindowLimiter(max int, window time.Duration, clock util.Clock) *WindowLimiter {
	return &WindowLimiter{max: max, window: window, clock: clock}
}

// Wait blocks until a start slot is available or ctx is done. On success
// the slot is consumed.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// TryAcquire consumes a slot if one is free, without blocking.
func (l *WindowLimiter) TryAcquire() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	_, ok := l.reserve()
	return ok
}

// reserve either records a start now (ok) or reports how long until the
// oldest start rolls out of the window.
func (l *WindowLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	l.starts = l.starts[i:]

	if len(l.starts) < l.max {
		l.starts = append(l.starts, now)
		return 0, true
	}
	return l.starts[0].Add(l.window).Sub(now), false
}
