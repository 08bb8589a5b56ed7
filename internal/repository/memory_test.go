package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRateLimiter(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, _ := limiter.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.True(t, allowed)
	allowed, _ = limiter.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.True(t, allowed)
	allowed, _ = limiter.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.False(t, allowed)

	allowed, _ = limiter.CheckRateLimit(ctx, "u2", 2, time.Minute)
	assert.True(t, allowed)

	now = now.Add(61 * time.Second)
	allowed, _ = limiter.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.True(t, allowed, "new window")
}
