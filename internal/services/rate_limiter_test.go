package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySubmissionLimiter(t *testing.T) {
	clock := &testClock{now: baseTime}
	limiter := NewMemorySubmissionLimiter(2, time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "user-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Counters are per user.
	allowed, err = limiter.Allow(ctx, "user-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	clock.Advance(time.Minute)

	allowed, err = limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemorySubmissionLimiterCleanup(t *testing.T) {
	clock := &testClock{now: baseTime}
	limiter := NewMemorySubmissionLimiter(5, time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "user-a")
	clock.Advance(30 * time.Second)
	_, _ = limiter.Allow(ctx, "user-b")
	clock.Advance(45 * time.Second)

	limiter.cleanup()

	assert.NotContains(t, limiter.windows, "user-a")
	assert.Contains(t, limiter.windows, "user-b")
}

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisSubmissionLimiter, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSubmissionLimiter(client, limit, window), server
}

func TestRedisSubmissionLimiter(t *testing.T) {
	limiter, server := newRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "user-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, time.Minute, server.TTL("receipt_rate:user-a"))
	count, err := server.Get("receipt_rate:user-a")
	require.NoError(t, err)
	assert.Equal(t, "3", count)

	server.FastForward(time.Minute)

	allowed, err = limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisSubmissionLimiterKeepsWindowAnchored(t *testing.T) {
	limiter, server := newRedisLimiter(t, 10, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user-a")
	require.NoError(t, err)

	server.FastForward(40 * time.Second)
	_, err = limiter.Allow(ctx, "user-a")
	require.NoError(t, err)

	// A later submission does not extend the window.
	assert.Equal(t, 20*time.Second, server.TTL("receipt_rate:user-a"))
}

func TestRedisSubmissionLimiterReportsErrors(t *testing.T) {
	limiter, server := newRedisLimiter(t, 10, time.Minute)
	server.Close()

	_, err := limiter.Allow(context.Background(), "user-a")
	assert.Error(t, err)
}
