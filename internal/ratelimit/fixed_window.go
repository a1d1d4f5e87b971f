package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/netmetering/internal/clock"
)

type windowState struct {
	count   int
	resetAt time.Time
}

// FixedWindow is an in-process fixed window counter keyed by an opaque string.
type FixedWindow struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	limit   int
	entries map[string]*windowState
}

func NewFixedWindow(clk clock.Clock, window time.Duration, limit int) *FixedWindow {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &FixedWindow{
		clock:   clk,
		window:  window,
		limit:   limit,
		entries: make(map[string]*windowState),
	}
}

func (f *FixedWindow) Check(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowState{count: 1, resetAt: now.Add(f.window)}
		f.entries[key] = entry
	} else {
		entry.count++
	}

	return Decision{
		Allowed: entry.count <= f.limit,
		Count:   entry.count,
		Limit:   f.limit,
		ResetAt: entry.resetAt,
	}, nil
}

// Sweep drops expired windows and returns how many were removed.
func (f *FixedWindow) Sweep() int {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for key, entry := range f.entries {
		if !now.Before(entry.resetAt) {
			delete(f.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
