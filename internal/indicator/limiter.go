package indicator

import (
	"context"
	"sync"
	"time"
)

// SlidingLimiter enforces a budget of max requests per window. Unlike a
// token bucket it blocks the caller until the oldest request in the
// window ages out, plus a safety buffer so the upstream's own clock
// cannot disagree.
type SlidingLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buffer  time.Duration
	history []time.Time
	now     func() time.Time
}

// NewSlidingLimiter builds a limiter for max requests per window.
func NewSlidingLimiter(max int, window, buffer time.Duration) *SlidingLimiter {
	return &SlidingLimiter{
		max:    max,
		window: window,
		buffer: buffer,
		now:    time.Now,
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the
// request is recorded in the window.
func (l *SlidingLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		cut := 0
		for cut < len(l.history) && now.Sub(l.history[cut]) >= l.window {
			cut++
		}
		l.history = l.history[cut:]

		if len(l.history) < l.max {
			l.history = append(l.history, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.history[0]) + l.buffer
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
