// Package limiter throttles a single transfer to a bytes-per-second cap.
package limiter

import (
	"context"
	"sync"
	"time"
)

// Interval is the measurement window of the limiter.
const Interval = 1000 * time.Millisecond

// SpeedLimiter caps the average rate of one transfer. Poll is called by the
// transfer with its running byte count; SetLimit may be called concurrently.
type SpeedLimiter struct {
	mu       sync.Mutex
	limit    int64
	lastTime time.Time
	lastSize int64
	observed int64
	now      func() time.Time
}

// New creates a limiter capped at limit bytes per second; 0 disables limiting.
func New(limit int64) *SpeedLimiter {
	return newWithClock(limit, time.Now)
}

func newWithClock(limit int64, now func() time.Time) *SpeedLimiter {
	return &SpeedLimiter{limit: limit, lastTime: now(), now: now}
}

// Limit returns the current cap.
func (l *SpeedLimiter) Limit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit changes the cap and restarts the measurement window at the last
// observed byte count.
func (l *SpeedLimiter) SetLimit(limit int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.lastTime = l.now()
	l.lastSize = l.observed
}

// Reset restarts the measurement window at byte count current.
func (l *SpeedLimiter) Reset(current int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observed = current
	l.lastTime = l.now()
	l.lastSize = current
}

// Poll reports how long the transfer must pause after reaching current bytes.
func (l *SpeedLimiter) Poll(current int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observed = current
	if l.limit <= 0 {
		return 0
	}
	now := l.now()
	elapsed := now.Sub(l.lastTime)
	if elapsed >= Interval {
		l.lastTime = now
		l.lastSize = current
		return 0
	}
	sent := current - l.lastSize
	if sent < l.limit*int64(Interval)/int64(time.Second) {
		return 0
	}
	need := time.Duration(float64(sent) / float64(l.limit) * float64(time.Second))
	if need <= elapsed {
		return 0
	}
	return need - elapsed
}

// Wait blocks for the delay Poll asks for, or until ctx is done.
func (l *SpeedLimiter) Wait(ctx context.Context, current int64) error {
	d := l.Poll(current)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
