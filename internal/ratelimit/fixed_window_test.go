package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(clk, DefaultWindow, DefaultLimit)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		decision, err := limiter.Check(ctx, "dev-token")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i)
		assert.Equal(t, i, decision.Count)
		clk.Advance(time.Second)
	}

	decision, err := limiter.Check(ctx, "dev-token")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 31, decision.Count)
}

func TestFixedWindowDeniedRequestsStillCount(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(clk, time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "k")
		require.NoError(t, err)
	}

	decision, err := limiter.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 6, decision.Count)
}

func TestFixedWindowResetsAfterExpiry(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	limiter := NewFixedWindow(clk, DefaultWindow, DefaultLimit)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		_, err := limiter.Check(ctx, "dev-token")
		require.NoError(t, err)
	}

	clk.Advance(DefaultWindow)

	decision, err := limiter.Check(ctx, "dev-token")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
	assert.Equal(t, start.Add(2*DefaultWindow), decision.ResetAt)
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(clk, time.Minute, 1)
	ctx := context.Background()

	first, err := limiter.Check(ctx, "a")
	require.NoError(t, err)
	second, err := limiter.Check(ctx, "b")
	require.NoError(t, err)

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
}

func TestFixedWindowConcurrentChecksNeverExceedLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(clk, DefaultWindow, DefaultLimit)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Check(ctx, "shared")
			if err != nil || !decision.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultLimit, allowed)
}

func TestFixedWindowSweep(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(clk, time.Minute, 5)
	ctx := context.Background()

	_, _ = limiter.Check(ctx, "old")
	clk.Advance(30 * time.Second)
	_, _ = limiter.Check(ctx, "fresh")
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestFixedWindowRejectsEmptyKey(t *testing.T) {
	limiter := NewFixedWindow(nil, 0, 0)
	_, err := limiter.Check(context.Background(), "")
	assert.Error(t, err)
}

func TestDecisionRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := Decision{ResetAt: now.Add(15 * time.Second)}
	assert.Equal(t, 15*time.Second, d.RetryAfter(now))
	assert.Equal(t, time.Duration(0), d.RetryAfter(now.Add(time.Minute)))
}
