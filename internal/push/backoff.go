package push

import (
	"context"
	"time"
)

// Backoff doubles a reconnect delay from Min up to Max
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	current time.Duration
}

// DefaultBackoff matches the reconnect policy used by the broker transports
func DefaultBackoff() *Backoff {
	return &Backoff{Min: time.Second, Max: 30 * time.Second}
}

// Next returns the delay to wait before the next attempt
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Min
		return b.current
	}
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset starts over from Min after a successful connect
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for d or until ctx is done. It returns false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
