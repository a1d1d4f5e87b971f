package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	locker := NewMemoryLocker(clk)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "billing:period:2024-05", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "billing:period:2024-05", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "billing:period:2024-05", token))

	_, ok, err = locker.TryLock(ctx, "billing:period:2024-05", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerExpires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	locker := NewMemoryLocker(clk)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(time.Minute)

	_, ok, err = locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerReleaseIgnoresForeignToken(t *testing.T) {
	locker := NewMemoryLocker(nil)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "k", "not-the-owner"))

	_, ok, err = locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockValidation(t *testing.T) {
	locker := NewMemoryLocker(nil)
	_, _, err := locker.TryLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)
}
