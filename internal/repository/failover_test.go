package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimiter(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverRateLimiter(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "u1", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u1", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailure", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "u1", 5, time.Minute).Return(false, errors.New("redis down")).Once()
		fallback.On("CheckRateLimit", ctx, "u1", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u1", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
	})

	t.Run("StaysOnFallback", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "u1", 5, time.Minute).Return(false, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u1", 5, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		primary.AssertNumberOfCalls(t, "CheckRateLimit", 2)
	})

	t.Run("Recovery", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * recoveryInterval)
		repo.mu.Unlock()
		primary.On("CheckRateLimit", ctx, "u1", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "u1", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.isDown.Load())
		fallback.AssertExpectations(t)
	})
}

func TestFailoverWithRealStores(t *testing.T) {
	logger := zerolog.New(io.Discard)
	repo := NewFailoverRateLimiter(NewRedisRateLimiter(nil), NewMemoryRateLimiter(), &logger)

	allowed, err := repo.CheckRateLimit(context.Background(), "u1", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = repo.CheckRateLimit(context.Background(), "u1", 1, time.Minute)
	assert.NoError(t, err)
	assert.False(t, allowed)
}
