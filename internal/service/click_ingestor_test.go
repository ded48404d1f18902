package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShardCount = 10

func setupIngestor(queueSize int) (service.ClickIngestor, *testEnv) {
	env := setupTestService()
	ing := service.NewClickIngestor(env.clicks, env.linkRepo, env.counters, service.IngestorConfig{
		QueueSize:  queueSize,
		ShardCount: testShardCount,
	}, nil)
	return ing, env
}

// TestClickIngestor_EnqueueDrain: enqueue + drain(1) даёт ровно одну запись
// клика с правильной ссылкой и шардом
func TestClickIngestor_EnqueueDrain(t *testing.T) {
	ing, env := setupIngestor(10)
	ctx := context.Background()

	link, err := env.links.Shorten(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/a",
	})
	require.NoError(t, err)

	ing.Enqueue(&models.ClickEvent{
		Slug:      link.Slug,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		Referer:   "https://news.example.com",
	})

	n := ing.Drain(ctx, 1)
	assert.Equal(t, 1, n)

	clicks := env.clicks.All()
	require.Len(t, clicks, 1)
	c := clicks[0]
	assert.Equal(t, link.ID, c.LinkID)
	assert.Equal(t, link.Slug, c.Slug)
	assert.Equal(t, service.ShardFor(link.Slug, testShardCount), c.ShardID)
	assert.Equal(t, models.DeviceDesktop, c.DeviceType)
	assert.Equal(t, "203.0.113.7", c.IPAddress)
	assert.Equal(t, "https://news.example.com", c.Referer)
	assert.False(t, c.ClickedAt.IsZero())
}

// TestClickIngestor_Enqueue_BumpsCounters: постановка в очередь синхронно
// инкрементирует быстрые счётчики
func TestClickIngestor_Enqueue_BumpsCounters(t *testing.T) {
	ing, env := setupIngestor(10)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		ing.Enqueue(&models.ClickEvent{Slug: "abC123", Timestamp: now})
	}

	total, err := env.counters.GetClickCount(ctx, "abC123")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	daily, found, err := env.counters.GetDailyClicks(ctx, "abC123", now)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), daily)
}

// TestClickIngestor_Enqueue_FullQueueDrops: переполненная очередь не
// блокирует вызывающего, лишние события теряются
func TestClickIngestor_Enqueue_FullQueueDrops(t *testing.T) {
	ing, env := setupIngestor(1)
	ctx := context.Background()

	link, err := env.links.Shorten(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/a",
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			ing.Enqueue(&models.ClickEvent{Slug: link.Slug})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue заблокировался на полной очереди")
	}

	// В хранилище попадает только то, что поместилось в буфер
	n := ing.Drain(ctx, 100)
	assert.Equal(t, 1, n)
}

// TestClickIngestor_Drain_UnknownSlugDropped: события удалённых ссылок
// молча пропускаются
func TestClickIngestor_Drain_UnknownSlugDropped(t *testing.T) {
	ing, env := setupIngestor(10)
	ctx := context.Background()

	ing.Enqueue(&models.ClickEvent{Slug: "ghost"})

	n := ing.Drain(ctx, 10)
	assert.Zero(t, n)
	assert.Empty(t, env.clicks.All())
}

// TestClickIngestor_Drain_BatchSizeRespected: drain забирает не больше batchSize
func TestClickIngestor_Drain_BatchSizeRespected(t *testing.T) {
	ing, env := setupIngestor(10)
	ctx := context.Background()

	link, err := env.links.Shorten(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/a",
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ing.Enqueue(&models.ClickEvent{Slug: link.Slug})
	}

	assert.Equal(t, 2, ing.Drain(ctx, 2))
	assert.Equal(t, 3, ing.Drain(ctx, 100))
	assert.Zero(t, ing.Drain(ctx, 100))
}

// TestClickIngestor_DropHandler: несохранённая пачка отдаётся drop-хендлеру,
// а не ретраится бесконечно
func TestClickIngestor_DropHandler(t *testing.T) {
	ing, env := setupIngestor(10)
	ctx := context.Background()

	link, err := env.links.Shorten(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/a",
	})
	require.NoError(t, err)

	insertErr := errors.New("db down")
	env.clicks.FailInserts(insertErr)

	var dropped []*models.ClickEvent
	var droppedErr error
	ing.SetDropHandler(func(batchID string, events []*models.ClickEvent, err error) {
		assert.NotEmpty(t, batchID)
		dropped = events
		droppedErr = err
	})

	ing.Enqueue(&models.ClickEvent{Slug: link.Slug})
	ing.Enqueue(&models.ClickEvent{Slug: link.Slug})

	n := ing.Drain(ctx, 10)
	assert.Zero(t, n)
	assert.Len(t, dropped, 2)
	assert.ErrorIs(t, droppedErr, insertErr)
}

// TestClickIngestor_StartStop: остановка доливает остаток очереди
func TestClickIngestor_StartStop(t *testing.T) {
	env := setupTestService()
	ing := service.NewClickIngestor(env.clicks, env.linkRepo, env.counters, service.IngestorConfig{
		QueueSize:     10,
		DrainInterval: time.Hour, // тикер не успеет, дренаж только на Stop
		ShardCount:    testShardCount,
	}, nil)

	link, err := env.links.Shorten(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/a",
	})
	require.NoError(t, err)

	ing.Start()
	ing.Enqueue(&models.ClickEvent{Slug: link.Slug})
	ing.Enqueue(&models.ClickEvent{Slug: link.Slug})
	ing.Stop()

	assert.Len(t, env.clicks.All(), 2)
}

// TestClickIngestor_Stats проверяет мониторинговую статистику очереди
func TestClickIngestor_Stats(t *testing.T) {
	ing, _ := setupIngestor(10)

	ing.Enqueue(&models.ClickEvent{Slug: "x"})
	stats := ing.Stats()
	assert.Equal(t, 10, stats.BufferSize)
	assert.Equal(t, 1, stats.BufferUsed)
}
