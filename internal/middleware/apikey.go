package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const requesterIDKey = "requester_id"

// APIKeyConfig конфигурация аутентификации по API ключу.
// Сам учёт пользователей внешний: ключ отображается на ID владельца.
type APIKeyConfig struct {
	// Keys карта валидных API ключей к ID пользователя-владельца
	Keys map[string]int64
	// HeaderName имя заголовка для API ключа (по умолчанию: X-API-Key)
	HeaderName string
	// Optional если true, запросы без ключа проходят как анонимные
	Optional bool
}

// APIKey middleware разрешает идентичность запрашивающего по API ключу
type APIKey struct {
	config APIKeyConfig
}

func NewAPIKey(config APIKeyConfig) *APIKey {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKey{config: config}
}

// Middleware возвращает gin handler, кладущий requester_id в контекст
func (ak *APIKey) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(ak.config.HeaderName)

		// Запасные варианты: query параметр и Bearer схема
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}
		if apiKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			if ak.config.Optional {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "Требуется API ключ: заголовок X-API-Key, query параметр api_key или Authorization: Bearer",
			})
			c.Abort()
			return
		}

		// Constant-time сравнение ключей
		var userID int64
		valid := false
		for validKey, uid := range ak.config.Keys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				valid = true
				userID = uid
				break
			}
		}

		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Невалидный API ключ",
			})
			c.Abort()
			return
		}

		c.Set(requesterIDKey, userID)
		c.Next()
	}
}

// RequireAPIKey хелпер: middleware, требующий валидный ключ
func RequireAPIKey(keys map[string]int64) gin.HandlerFunc {
	return NewAPIKey(APIKeyConfig{Keys: keys}).Middleware()
}

// OptionalAPIKey хелпер: ключ опционален, без него запрос анонимный
func OptionalAPIKey(keys map[string]int64) gin.HandlerFunc {
	return NewAPIKey(APIKeyConfig{Keys: keys, Optional: true}).Middleware()
}

// RequesterID извлекает ID запрашивающего из контекста
func RequesterID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(requesterIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
