package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Ingest    IngestConfig
	Analytics AnalyticsConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Port    string
	BaseURL string // префикс для коротких ссылок, например https://sh.ly
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host string
	Port string
}

type AuthConfig struct {
	// APIKeys карта API ключ -> ID пользователя-владельца
	APIKeys map[string]int64
}

type IngestConfig struct {
	QueueSize     int           // ёмкость буфера очереди кликов
	BatchSize     int           // максимум событий на один drain
	DrainInterval time.Duration // период фонового дренажа
	Workers       int           // количество drain-воркеров
	ShardCount    int           // количество шардов аналитики; менять только с миграцией данных
}

type AnalyticsConfig struct {
	SnapshotTTL time.Duration // TTL кэша снапшотов аналитики
	TopN        int           // размер разбивок browser/device/referrer
}

type RateLimitConfig struct {
	// Fixed-window лимиты (Redis)
	APILimit    int
	APIWindow   time.Duration
	LoginLimit  int
	LoginWindow time.Duration
	// Token bucket для горячего пути редиректа (in-process)
	RedirectRPS   float64
	RedirectBurst int
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	cfg.App.Port = viper.GetString("APP_PORT")
	cfg.App.BaseURL = viper.GetString("APP_BASE_URL")
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}
	cfg.DB.Host = viper.GetString("DB_HOST")
	cfg.DB.Port = viper.GetString("DB_PORT")
	cfg.DB.User = viper.GetString("DB_USER")
	cfg.DB.Password = viper.GetString("DB_PASSWORD")
	cfg.DB.Name = viper.GetString("DB_NAME")
	cfg.Redis.Host = viper.GetString("REDIS_HOST")
	cfg.Redis.Port = viper.GetString("REDIS_PORT")

	// Auth: API ключи в формате key1:userID1,key2:userID2
	cfg.Auth.APIKeys = parseAPIKeys(viper.GetString("API_KEYS"))

	cfg.Ingest.QueueSize = intOr("CLICK_QUEUE_SIZE", 1000)
	cfg.Ingest.BatchSize = intOr("CLICK_BATCH_SIZE", 100)
	cfg.Ingest.DrainInterval = durationOr("CLICK_DRAIN_INTERVAL", time.Second)
	cfg.Ingest.Workers = intOr("CLICK_DRAIN_WORKERS", 2)
	cfg.Ingest.ShardCount = intOr("SHARD_COUNT", 10)

	cfg.Analytics.SnapshotTTL = durationOr("ANALYTICS_CACHE_TTL", 10*time.Minute)
	cfg.Analytics.TopN = intOr("ANALYTICS_TOP_N", 10)

	cfg.RateLimit.APILimit = intOr("RATE_LIMIT_API_MAX", 60)
	cfg.RateLimit.APIWindow = durationOr("RATE_LIMIT_API_WINDOW", time.Minute)
	cfg.RateLimit.LoginLimit = intOr("RATE_LIMIT_LOGIN_MAX", 5)
	cfg.RateLimit.LoginWindow = durationOr("RATE_LIMIT_LOGIN_WINDOW", time.Minute)
	cfg.RateLimit.RedirectRPS = viper.GetFloat64("RATE_LIMIT_REDIRECT_RPS")
	if cfg.RateLimit.RedirectRPS == 0 {
		cfg.RateLimit.RedirectRPS = 50
	}
	cfg.RateLimit.RedirectBurst = intOr("RATE_LIMIT_REDIRECT_BURST", 100)

	return &cfg, nil
}

func intOr(key string, def int) int {
	if v := viper.GetInt(key); v != 0 {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) time.Duration {
	if v := viper.GetDuration(key); v != 0 {
		return v
	}
	return def
}

// parseAPIKeys разбирает строку вида "key1:1,key2:42"
func parseAPIKeys(raw string) map[string]int64 {
	keys := make(map[string]int64)
	if raw == "" {
		return keys
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		uid, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || uid <= 0 {
			continue
		}
		keys[strings.TrimSpace(parts[0])] = uid
	}
	return keys
}
