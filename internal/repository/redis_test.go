package repository

import (
	"context"
	"testing"
	"time"

	"reservas/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.CheckRateLimit(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.CheckRateLimit(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// other keys have their own budget
	allowed, err = limiter.CheckRateLimit(ctx, "u2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.True(t, s.TTL(rateLimitPrefix+"u1") > 0)

	s.FastForward(2 * time.Minute)
	allowed, err = limiter.CheckRateLimit(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "window expired")
}

func TestRedisRateLimiter_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)

	require.NoError(t, Ping(context.Background(), client))
	s.Close()

	_, err = NewRedisRateLimiter(client).CheckRateLimit(context.Background(), "u1", 1, time.Minute)
	assert.Error(t, err)
	assert.Error(t, Ping(context.Background(), client))
}

func TestRedisRateLimiter_NilClient(t *testing.T) {
	_, err := NewRedisRateLimiter(nil).CheckRateLimit(context.Background(), "u1", 1, time.Minute)
	assert.Error(t, err)
}
