package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 30
)

// Decision is the outcome of a single Check call.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// RetryAfter returns the time left in the current window.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts requests per key. Denied requests still count against the window.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}
