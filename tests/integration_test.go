package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/SergeiKhy/shortly/internal/config"
	"github.com/SergeiKhy/shortly/internal/handler"
	"github.com/SergeiKhy/shortly/internal/middleware"
	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/repository"
	"github.com/SergeiKhy/shortly/internal/repository/migrations"
	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAPIKey      = "test-api-key"
	otherAPIKey     = "other-api-key"
	testDesktopUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	testMobileUA    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	testShardsTotal = 10
)

// TestMain настраивает тестовые контейнеры
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// TestEnv хранит окружение для интеграционных тестов
type TestEnv struct {
	router         *gin.Engine
	ingestor       service.ClickIngestor
	dbContainer    testcontainers.Container
	redisContainer testcontainers.Container
	db             *repository.PostgresDB
	redis          *repository.RedisDB
}

// setupTestEnv создаёт тестовое окружение с PostgreSQL и Redis контейнерами
func setupTestEnv(t *testing.T) *TestEnv {
	ctx := t.Context()

	// Запускаем контейнер PostgreSQL
	dbContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("shortly"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	// Запускаем контейнер Redis
	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
	)
	require.NoError(t, err)

	// Получаем данные для подключения
	dbHost, err := dbContainer.Host(ctx)
	require.NoError(t, err)
	dbPort, err := dbContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	dbCfg := config.DBConfig{
		Host:     dbHost,
		Port:     dbPort.Port(),
		User:     "user",
		Password: "password",
		Name:     "shortly",
	}

	// Накатываем схему и подключаемся
	require.NoError(t, migrations.Up(repository.DSN(dbCfg)))

	db, err := repository.NewPostgresDB(dbCfg)
	require.NoError(t, err)

	redisClient, err := repository.NewRedisClient(config.RedisConfig{
		Host: redisHost,
		Port: redisPort.Port(),
	})
	require.NoError(t, err)

	// Инициализируем репозитории и сервисы
	linkRepo := repository.NewLinkRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)
	clickRepo := repository.NewClickRepository(db)
	counterRepo := repository.NewCounterRepository(redisClient)

	slugGen := service.NewSlugGenerator(linkRepo, cacheRepo)
	linkService := service.NewLinkService(linkRepo, cacheRepo, clickRepo, counterRepo, slugGen, "http://sh.ly", nil)

	ingestor := service.NewClickIngestor(clickRepo, linkRepo, counterRepo, service.IngestorConfig{
		QueueSize:     100,
		BatchSize:     50,
		DrainInterval: 50 * time.Millisecond, // быстрый drain для тестов
		Workers:       2,
		ShardCount:    testShardsTotal,
	}, nil)
	ingestor.Start()

	analytics := service.NewAnalyticsService(linkRepo, clickRepo, counterRepo, service.AnalyticsConfig{
		SnapshotTTL: 50 * time.Millisecond, // короткий TTL, чтобы тесты видели свежие данные
		TopN:        10,
		ShardCount:  testShardsTotal,
	}, nil)

	rateLimiter := service.NewRateLimitService(counterRepo, nil)

	router := handler.NewRouter(handler.RouterConfig{
		Links:       linkService,
		Ingestor:    ingestor,
		Analytics:   analytics,
		RateLimiter: rateLimiter,
		APIKeys: map[string]int64{
			testAPIKey:  1,
			otherAPIKey: 2,
		},
		BaseURL:   "http://sh.ly",
		APILimit:  1000, // высокий лимит для тестов
		APIWindow: time.Minute,
	})

	return &TestEnv{
		router:         router,
		ingestor:       ingestor,
		dbContainer:    dbContainer,
		redisContainer: redisContainer,
		db:             db,
		redis:          redisClient,
	}
}

// teardown очищает ресурсы после теста
func (env *TestEnv) teardown(t *testing.T) {
	env.ingestor.Stop()
	env.db.Close()
	env.redis.Close()

	ctx := t.Context()
	if env.dbContainer != nil {
		env.dbContainer.Terminate(ctx)
	}
	if env.redisContainer != nil {
		env.redisContainer.Terminate(ctx)
	}
}

func (env *TestEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *TestEnv) createLink(t *testing.T, body map[string]any, apiKey string) handler.LinkResponse {
	t.Helper()
	headers := map[string]string{}
	if apiKey != "" {
		headers["X-API-Key"] = apiKey
	}
	w := env.do(http.MethodPost, "/api/v1/links", body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp handler.LinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// TestIntegration_CreateAndRedirect: создание ссылки и редирект по ней
func TestIntegration_CreateAndRedirect(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	link := env.createLink(t, map[string]any{"url": "https://example.com/page"}, "")
	assert.NotEmpty(t, link.Slug)
	assert.Equal(t, "http://sh.ly/"+link.Slug, link.ShortURL)

	t.Run("редирект на оригинальный URL", func(t *testing.T) {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, nil)
		assert.Equal(t, http.StatusMovedPermanently, w.Code)
		assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))
	})

	t.Run("повторный редирект отвечает из кэша", func(t *testing.T) {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, nil)
		assert.Equal(t, http.StatusMovedPermanently, w.Code)
	})

	t.Run("несуществующий слаг", func(t *testing.T) {
		w := env.do(http.MethodGet, "/nonexist", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("невалидный URL отклоняется", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/links", map[string]any{"url": "not-a-url"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// TestIntegration_CustomSlug: кастомный слаг и конфликт при повторе
func TestIntegration_CustomSlug(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	link := env.createLink(t, map[string]any{
		"url":         "https://example.com/custom",
		"custom_slug": "my-promo",
	}, testAPIKey)
	assert.Equal(t, "my-promo", link.Slug)
	assert.True(t, link.IsCustom)

	t.Run("занятый слаг конфликтует", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/links", map[string]any{
			"url":         "https://example.com/another",
			"custom_slug": "my-promo",
		}, map[string]string{"X-API-Key": otherAPIKey})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("слишком короткий слаг отклоняется", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/links", map[string]any{
			"url":         "https://example.com/short",
			"custom_slug": "ab",
		}, map[string]string{"X-API-Key": testAPIKey})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// TestIntegration_DuplicateURL: повторное сокращение того же URL тем же
// пользователем возвращает существующую ссылку
func TestIntegration_DuplicateURL(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	first := env.createLink(t, map[string]any{"url": "https://example.com/dup"}, testAPIKey)
	second := env.createLink(t, map[string]any{"url": "https://example.com/dup"}, testAPIKey)
	assert.Equal(t, first.Slug, second.Slug)

	// Другой пользователь получает свою ссылку
	other := env.createLink(t, map[string]any{"url": "https://example.com/dup"}, otherAPIKey)
	assert.NotEqual(t, first.Slug, other.Slug)
}

// TestIntegration_ClickPipeline: редиректы проходят через очередь кликов
// в шардированное хранилище и видны в аналитике
func TestIntegration_ClickPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	link := env.createLink(t, map[string]any{"url": "https://example.com/stats"}, testAPIKey)

	// Симулируем клики с разных устройств
	for i := 0; i < 3; i++ {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, map[string]string{
			"User-Agent":      testDesktopUA,
			"X-Forwarded-For": fmt.Sprintf("192.168.1.%d", i),
			"Referer":         "https://news.example.com/post",
		})
		require.Equal(t, http.StatusMovedPermanently, w.Code)
	}
	for i := 0; i < 2; i++ {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, map[string]string{
			"User-Agent": testMobileUA,
		})
		require.Equal(t, http.StatusMovedPermanently, w.Code)
	}

	// Даём воркерам время на drain
	time.Sleep(300 * time.Millisecond)

	t.Run("аналитика видит клики", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/links/"+link.Slug+"/analytics", nil,
			map[string]string{"X-API-Key": testAPIKey})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Data models.Analytics `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		assert.Equal(t, link.Slug, resp.Data.Slug)
		assert.Equal(t, int64(5), resp.Data.TotalClicks)

		devices := map[string]int64{}
		for _, d := range resp.Data.Devices {
			devices[d.Value] = d.Count
		}
		assert.Equal(t, int64(3), devices[models.DeviceDesktop])
		assert.Equal(t, int64(2), devices[models.DeviceMobile])

		require.NotEmpty(t, resp.Data.DailyClicks)
		var daily int64
		for _, d := range resp.Data.DailyClicks {
			daily += d.Count
		}
		assert.Equal(t, int64(5), daily)
	})

	t.Run("чужая аналитика недоступна", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/links/"+link.Slug+"/analytics", nil,
			map[string]string{"X-API-Key": otherAPIKey})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("список ссылок показывает счётчик кликов", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/links", nil,
			map[string]string{"X-API-Key": testAPIKey})
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []models.LinkSummary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, int64(5), resp.Data[0].ClickCount)
	})
}

// TestIntegration_UpdateLink: смена слага инвалидирует старый кэш
func TestIntegration_UpdateLink(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	link := env.createLink(t, map[string]any{"url": "https://example.com/rotate"}, testAPIKey)

	// Прогреваем кэш редиректом
	w := env.do(http.MethodGet, "/"+link.Slug, nil, nil)
	require.Equal(t, http.StatusMovedPermanently, w.Code)

	// Меняем слаг
	w = env.do(http.MethodPut, "/api/v1/links/"+link.Slug, map[string]any{
		"custom_slug": "renamed-link",
	}, map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("старый слаг больше не работает", func(t *testing.T) {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("новый слаг ведёт на тот же URL", func(t *testing.T) {
		w := env.do(http.MethodGet, "/renamed-link", nil, nil)
		assert.Equal(t, http.StatusMovedPermanently, w.Code)
		assert.Equal(t, "https://example.com/rotate", w.Header().Get("Location"))
	})

	t.Run("чужую ссылку менять нельзя", func(t *testing.T) {
		w := env.do(http.MethodPut, "/api/v1/links/renamed-link", map[string]any{
			"custom_slug": "hijacked",
		}, map[string]string{"X-API-Key": otherAPIKey})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

// TestIntegration_DeleteLink: удаление освобождает слаг для повторного
// использования
func TestIntegration_DeleteLink(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	link := env.createLink(t, map[string]any{
		"url":         "https://example.com/old",
		"custom_slug": "reusable",
	}, testAPIKey)

	w := env.do(http.MethodDelete, "/api/v1/links/"+link.Slug, nil,
		map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("удалённая ссылка не редиректит", func(t *testing.T) {
		w := env.do(http.MethodGet, "/"+link.Slug, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("повторное удаление отвечает 404", func(t *testing.T) {
		w := env.do(http.MethodDelete, "/api/v1/links/"+link.Slug, nil,
			map[string]string{"X-API-Key": testAPIKey})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("слаг можно занять заново", func(t *testing.T) {
		fresh := env.createLink(t, map[string]any{
			"url":         "https://example.com/new",
			"custom_slug": "reusable",
		}, otherAPIKey)
		assert.Equal(t, "reusable", fresh.Slug)

		w := env.do(http.MethodGet, "/reusable", nil, nil)
		assert.Equal(t, http.StatusMovedPermanently, w.Code)
		assert.Equal(t, "https://example.com/new", w.Header().Get("Location"))
	})
}

// TestIntegration_RateLimit: fixed-window лимит на API с заголовками
func TestIntegration_RateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	// Отдельный роутер с жёстким лимитом поверх того же окружения
	counterRepo := repository.NewCounterRepository(env.redis)
	limiter := service.NewRateLimitService(counterRepo, nil)

	router := gin.New()
	router.GET("/ping", middleware.FixedWindow(limiter, 2, time.Minute), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ping := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)
		return w
	}

	w := ping()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = ping()
	require.Equal(t, http.StatusOK, w.Code)

	w = ping()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

// TestIntegration_HealthCheck: состояние очереди в health endpoint
func TestIntegration_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	w := env.do(http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string             `json:"status"`
		Queue  service.QueueStats `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 100, resp.Queue.BufferSize)
	assert.Equal(t, 2, resp.Queue.WorkerCount)
}
