package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortly/internal/repository"
	"go.uber.org/zap"
)

// Decision результат проверки лимита
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // > 0 только при отказе
}

// RateLimitService fixed-window лимитер поверх Redis-счётчиков.
// Приблизительный: инкремент и выставление TTL — две операции, окно не
// скользящее. Годится для защиты от злоупотреблений, не для биллинга квот.
type RateLimitService interface {
	// Allow инкрементирует счётчик окна и решает, пропускать ли запрос
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Hit только инкрементирует счётчик (например, попытку логина)
	Hit(ctx context.Context, key string, window time.Duration) error
	// Clear досрочно сбрасывает счётчик (например, после успешного логина)
	Clear(ctx context.Context, key string) error
}

type rateLimitService struct {
	counterRepo repository.CounterRepository
	logger      *zap.Logger
}

func NewRateLimitService(counterRepo repository.CounterRepository, logger *zap.Logger) RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &rateLimitService{
		counterRepo: counterRepo,
		logger:      logger,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, err := s.counterRepo.IncrWindow(ctx, key, window)
	if err != nil {
		// Redis недоступен: fail open, лимитер не должен ронять трафик
		s.logger.Warn("Лимитер недоступен, запрос пропущен", zap.Error(err))
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	if count > int64(limit) {
		retryAfter, err := s.counterRepo.WindowTTL(ctx, key)
		if err != nil || retryAfter <= 0 {
			retryAfter = window
		}
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
	}, nil
}

func (s *rateLimitService) Hit(ctx context.Context, key string, window time.Duration) error {
	_, err := s.counterRepo.IncrWindow(ctx, key, window)
	return err
}

func (s *rateLimitService) Clear(ctx context.Context, key string) error {
	return s.counterRepo.ClearWindow(ctx, key)
}

// APIKeyFor сигнатура общего API-лимита: пользователь (или IP) + маршрут + метод
func APIKeyFor(identity, route, method string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", identity, route, method)
}

// LoginKeyFor сигнатура лимита логина: IP + хэш email
func LoginKeyFor(ip, email string) string {
	key := "ratelimit:login:" + ip
	if email != "" {
		sum := sha1.Sum([]byte(email))
		key += ":" + hex.EncodeToString(sum[:])
	}
	return key
}
