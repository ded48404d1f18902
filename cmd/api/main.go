package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/shortly/internal/config"
	"github.com/SergeiKhy/shortly/internal/handler"
	"github.com/SergeiKhy/shortly/internal/middleware"
	"github.com/SergeiKhy/shortly/internal/repository"
	"github.com/SergeiKhy/shortly/internal/repository/migrations"
	"github.com/SergeiKhy/shortly/internal/service"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Миграции схемы перед стартом
	if err := migrations.Up(repository.DSN(cfg.DB)); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Migrations applied")

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Подключение к Redis
	redis, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Инициализация репозиториев
	linkRepo := repository.NewLinkRepository(db)
	cacheRepo := repository.NewCacheRepository(redis)
	clickRepo := repository.NewClickRepository(db)
	counterRepo := repository.NewCounterRepository(redis)

	// Инициализация сервисов
	slugGen := service.NewSlugGenerator(linkRepo, cacheRepo)
	linkService := service.NewLinkService(linkRepo, cacheRepo, clickRepo, counterRepo, slugGen, cfg.App.BaseURL, logger)

	ingestor := service.NewClickIngestor(clickRepo, linkRepo, counterRepo, service.IngestorConfig{
		QueueSize:     cfg.Ingest.QueueSize,
		BatchSize:     cfg.Ingest.BatchSize,
		DrainInterval: cfg.Ingest.DrainInterval,
		Workers:       cfg.Ingest.Workers,
		ShardCount:    cfg.Ingest.ShardCount,
	}, logger)
	ingestor.Start()
	defer ingestor.Stop()

	analyticsService := service.NewAnalyticsService(linkRepo, clickRepo, counterRepo, service.AnalyticsConfig{
		SnapshotTTL: cfg.Analytics.SnapshotTTL,
		TopN:        cfg.Analytics.TopN,
		ShardCount:  cfg.Ingest.ShardCount, // тот же шард-каунт, что у ингестора
	}, logger)

	rateLimiter := service.NewRateLimitService(counterRepo, logger)

	redirectTB := middleware.NewTokenBucket(middleware.TokenBucketConfig{
		RequestsPerSecond: cfg.RateLimit.RedirectRPS,
		BurstSize:         cfg.RateLimit.RedirectBurst,
		CleanupInterval:   time.Minute,
	})

	// Настройка роутера
	router := handler.NewRouter(handler.RouterConfig{
		Links:       linkService,
		Ingestor:    ingestor,
		Analytics:   analyticsService,
		RateLimiter: rateLimiter,
		APIKeys:     cfg.Auth.APIKeys,
		BaseURL:     cfg.App.BaseURL,
		APILimit:    cfg.RateLimit.APILimit,
		APIWindow:   cfg.RateLimit.APIWindow,
		RedirectTB:  redirectTB,
		Logger:      logger,
	})

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
