package handler

import (
	"net/http"
	"time"

	"github.com/SergeiKhy/shortly/internal/middleware"
	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig зависимости и лимиты роутера
type RouterConfig struct {
	Links       service.LinkService
	Ingestor    service.ClickIngestor
	Analytics   service.AnalyticsService
	RateLimiter service.RateLimitService
	APIKeys     map[string]int64
	BaseURL     string
	APILimit    int
	APIWindow   time.Duration
	RedirectTB  *middleware.TokenBucket
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
		)
		c.Next()
	})

	linkHandler := NewLinkHandler(cfg.Links, cfg.Ingestor, cfg.Analytics, cfg.BaseURL, logger)

	// API v1: опциональный API ключ + fixed-window лимит
	v1 := router.Group("/api/v1")
	v1.Use(middleware.OptionalAPIKey(cfg.APIKeys))
	if cfg.RateLimiter != nil {
		v1.Use(middleware.FixedWindow(cfg.RateLimiter, cfg.APILimit, cfg.APIWindow))
	}
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
				"queue":  cfg.Ingestor.Stats(),
			})
		})

		v1.POST("/links", linkHandler.CreateLink)
		v1.GET("/links", linkHandler.ListLinks)
		v1.GET("/links/:slug", linkHandler.GetLink)
		v1.PUT("/links/:slug", linkHandler.UpdateLink)
		v1.DELETE("/links/:slug", linkHandler.DeleteLink)
		v1.GET("/links/:slug/analytics", linkHandler.GetAnalytics)
	}

	// Редирект (корневой путь): только дешёвый in-process token bucket,
	// без Redis и без API ключа
	redirect := router.Group("/")
	if cfg.RedirectTB != nil {
		redirect.Use(cfg.RedirectTB.Middleware())
	}
	redirect.GET("/:slug", linkHandler.Redirect)

	return router
}
