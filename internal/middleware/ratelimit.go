package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// FixedWindow gin middleware поверх Redis fixed-window лимитера.
// Сигнатура: user:<id> для авторизованных, ip:<адрес> для остальных,
// плюс маршрут и метод.
func FixedWindow(limiter service.RateLimitService, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := "ip:" + c.ClientIP()
		if uid, ok := RequesterID(c); ok {
			identity = fmt.Sprintf("user:%d", uid)
		}
		key := service.APIKeyFor(identity, c.FullPath(), c.Request.Method)

		decision, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			// Лимитер сам fail open, сюда попадать не должны
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter / time.Second)
			c.Header("X-RateLimit-Reset", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Слишком много запросов, попробуйте позже",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenBucketConfig конфигурация in-process лимитера горячего пути
type TokenBucketConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

// visitor rate limiter одного клиента
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket первый рубеж перед Redis на пути редиректа: дешёвый
// per-IP token bucket в памяти процесса
type TokenBucket struct {
	config   TokenBucketConfig
	visitors map[string]*visitor // IP -> visitor
	mu       sync.RWMutex
}

func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	tb := &TokenBucket{
		config:   config,
		visitors: make(map[string]*visitor),
	}

	go tb.cleanupLoop()

	return tb
}

// cleanupLoop периодически удаляет неактивных посетителей
func (tb *TokenBucket) cleanupLoop() {
	ticker := time.NewTicker(tb.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		tb.cleanup()
	}
}

func (tb *TokenBucket) cleanup() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	for ip, v := range tb.visitors {
		if time.Since(v.lastSeen) > tb.config.CleanupInterval*3 {
			delete(tb.visitors, ip)
		}
	}
}

func (tb *TokenBucket) getLimiter(ip string) *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if v, exists := tb.visitors[ip]; exists {
		v.lastSeen = time.Now()
		return v.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(tb.config.RequestsPerSecond), tb.config.BurstSize)
	tb.visitors[ip] = &visitor{
		limiter:  limiter,
		lastSeen: time.Now(),
	}

	return limiter
}

// Middleware возвращает gin handler token bucket лимитера
func (tb *TokenBucket) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tb.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Слишком много запросов, попробуйте позже",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
