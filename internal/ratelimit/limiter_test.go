package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/repository/memory"
)

func TestLimiterWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	l := NewLimiter(memory.NewRateWindowStore(), clk, 0, 0)

	for i := 1; i <= 100; i++ {
		d, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.NoError(t, l.Record(ctx, "203.0.113.7"))
		clk.Advance(time.Second)
	}

	d, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 100, d.Count)
	assert.Equal(t, 100, d.Limit)
	// Oldest entry at start, now is start+100s.
	assert.Equal(t, 15*time.Minute-100*time.Second, d.RetryAfter)

	other, err := l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.Set(start.Add(15*time.Minute + 100*time.Second))
	d, err = l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Count)
}

func TestLimiterPartialExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	l := NewLimiter(memory.NewRateWindowStore(), clk, time.Minute, 2)

	require.NoError(t, l.Record(ctx, "c"))
	clk.Advance(30 * time.Second)
	require.NoError(t, l.Record(ctx, "c"))

	d, err := l.Allow(ctx, "c")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clk.Advance(31 * time.Second)
	d, err = l.Allow(ctx, "c")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestPrefixedLimitersShareStoreIndependently(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	store := memory.NewRateWindowStore()
	general := NewLimiter(store, clk, 0, 0)
	phoneAuth := NewPrefixedLimiter(store, clk, PhoneAuthPrefix, 24*time.Hour, 5)

	for i := 1; i <= 5; i++ {
		d, err := phoneAuth.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.NoError(t, phoneAuth.Record(ctx, "203.0.113.7"))
		clk.Advance(time.Minute)
	}

	d, err := phoneAuth.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 24*time.Hour-5*time.Minute, d.RetryAfter)

	g, err := general.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, g.Allowed)
	assert.Equal(t, 0, g.Count)

	clk.Advance(24 * time.Hour)
	d, err = phoneAuth.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
