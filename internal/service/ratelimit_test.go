package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/SergeiKhy/shortly/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimit_AllowWithinLimit: запросы в пределах лимита проходят,
// Remaining убывает
func TestRateLimit_AllowWithinLimit(t *testing.T) {
	counters := mocks.NewMockCounterRepository()
	limiter := service.NewRateLimitService(counters, nil)
	ctx := context.Background()

	key := service.APIKeyFor("ip:1.2.3.4", "/api/v1/links", "POST")

	for i := 1; i <= 3; i++ {
		decision, err := limiter.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 3-i, decision.Remaining)
		assert.Zero(t, decision.RetryAfter)
	}
}

// TestRateLimit_DeniedOverLimit: после исчерпания окна запрос отклоняется
// с ненулевым RetryAfter
func TestRateLimit_DeniedOverLimit(t *testing.T) {
	counters := mocks.NewMockCounterRepository()
	limiter := service.NewRateLimitService(counters, nil)
	ctx := context.Background()

	key := service.APIKeyFor("user:7", "/api/v1/links", "POST")

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
	}

	decision, err := limiter.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

// TestRateLimit_WindowExpires: по истечении окна счётчик начинается заново
func TestRateLimit_WindowExpires(t *testing.T) {
	counters := mocks.NewMockCounterRepository()
	limiter := service.NewRateLimitService(counters, nil)
	ctx := context.Background()

	key := service.APIKeyFor("ip:1.2.3.4", "/s", "GET")

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, key, 1, 30*time.Millisecond)
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)

	decision, err := limiter.Allow(ctx, key, 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// TestRateLimit_Clear: сброс окна (успешный логин) снимает блокировку
func TestRateLimit_Clear(t *testing.T) {
	counters := mocks.NewMockCounterRepository()
	limiter := service.NewRateLimitService(counters, nil)
	ctx := context.Background()

	key := service.LoginKeyFor("10.0.0.1", "user@example.com")

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Hit(ctx, key, time.Minute))
	}
	decision, err := limiter.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	require.NoError(t, limiter.Clear(ctx, key))

	decision, err = limiter.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// TestRateLimit_FailOpen: при недоступности Redis лимитер пропускает трафик
func TestRateLimit_FailOpen(t *testing.T) {
	counters := mocks.NewMockCounterRepository()
	limiter := service.NewRateLimitService(counters, nil)
	ctx := context.Background()

	counters.FailWindows(errors.New("connection refused"))

	decision, err := limiter.Allow(ctx, "ratelimit:ip:1.2.3.4:/s:GET", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// TestRateLimit_KeySignatures проверяет формат сигнатур ключей
func TestRateLimit_KeySignatures(t *testing.T) {
	assert.Equal(t, "ratelimit:user:7:/api/v1/links:POST",
		service.APIKeyFor("user:7", "/api/v1/links", "POST"))

	withEmail := service.LoginKeyFor("10.0.0.1", "user@example.com")
	assert.Contains(t, withEmail, "ratelimit:login:10.0.0.1:")
	assert.NotContains(t, withEmail, "user@example.com") // только хэш

	assert.Equal(t, "ratelimit:login:10.0.0.1", service.LoginKeyFor("10.0.0.1", ""))
}
