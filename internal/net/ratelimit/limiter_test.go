package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	assert.True(t, limiter.Allow("snapshots"))
	assert.True(t, limiter.Allow("snapshots"))
	assert.False(t, limiter.Allow("snapshots"), "burst exhausted")
}

func TestLimiter_IndependentKeys(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	assert.True(t, limiter.Allow("snapshots"))
	assert.True(t, limiter.Allow("predictions"))
	assert.False(t, limiter.Allow("snapshots"))
	assert.False(t, limiter.Allow("predictions"))
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // one token every 10s

	require.NoError(t, limiter.Wait(context.Background(), "executor"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "executor"))
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(0, 0)
	assert.False(t, limiter.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("snapshots"))
	}
	require.NoError(t, limiter.Wait(context.Background(), "snapshots"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx, "snapshots"), context.Canceled)

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("x"))
}

func TestLimiter_StatsAndReset(t *testing.T) {
	limiter := NewLimiter(1.0, 1)
	limiter.Allow("snapshots")

	stats := limiter.Stats()
	require.Contains(t, stats, "snapshots")
	assert.Equal(t, 1, stats["snapshots"].Burst)
	assert.True(t, stats["snapshots"].IsThrottled())

	limiter.Reset()
	assert.Empty(t, limiter.Stats())
	assert.True(t, limiter.Allow("snapshots"))
}

func TestEvery(t *testing.T) {
	assert.InDelta(t, 4.0, Every(250*time.Millisecond), 1e-9)
	assert.Equal(t, 0.0, Every(0))
}
