package client

import "time"

// Backoff is the reconnect timing policy: the delay before retry n is
// min(Cap, Base·2^n), and no retry is scheduled once MaxRetries have been
// made since the last successful open.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoff returns 1s base, 30s cap, 5 retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Cap:        30 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns the wait before the retry numbered attempt (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap || d <= 0 {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Exhausted reports whether attempt retries use up the budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxRetries
}
