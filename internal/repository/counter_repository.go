package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/redis/go-redis/v9"
)

// CounterRepository быстрые счётчики кликов, кэш снапшотов аналитики и
// счётчики rate limiting. Все инкременты атомарны на стороне Redis —
// никакого read-modify-write у вызывающего.
type CounterRepository interface {
	IncrClickCount(ctx context.Context, slug string) error
	GetClickCount(ctx context.Context, slug string) (int64, error)
	IncrDailyClicks(ctx context.Context, slug string, day time.Time) error
	// GetDailyClicks возвращает (count, found): found=false означает,
	// что счётчик истёк или не заводился и нужен запрос в хранилище
	GetDailyClicks(ctx context.Context, slug string, day time.Time) (int64, bool, error)

	GetSnapshot(ctx context.Context, slug, start, end string) (*models.Analytics, error)
	SetSnapshot(ctx context.Context, snapshot *models.Analytics, ttl time.Duration) error

	// IncrWindow инкрементирует счётчик окна и на первом хите ставит TTL.
	// Возвращает новое значение счётчика.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	WindowTTL(ctx context.Context, key string) (time.Duration, error)
	ClearWindow(ctx context.Context, key string) error
}

type counterRepository struct {
	redis *RedisDB
}

func NewCounterRepository(redis *RedisDB) CounterRepository {
	return &counterRepository{redis: redis}
}

func (r *counterRepository) IncrClickCount(ctx context.Context, slug string) error {
	return r.redis.Client.Incr(ctx, "clickcount:"+slug).Err()
}

func (r *counterRepository) GetClickCount(ctx context.Context, slug string) (int64, error) {
	n, err := r.redis.Client.Get(ctx, "clickcount:"+slug).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, err
	}
	return n, nil
}

func (r *counterRepository) IncrDailyClicks(ctx context.Context, slug string, day time.Time) error {
	key := dailyKey(slug, day)
	pipe := r.redis.Client.Pipeline()
	pipe.Incr(ctx, key)
	// TTL 48 часов: счётчик живёт, пока день «горячий», дальше — хранилище
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *counterRepository) GetDailyClicks(ctx context.Context, slug string, day time.Time) (int64, bool, error) {
	n, err := r.redis.Client.Get(ctx, dailyKey(slug, day)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

func (r *counterRepository) GetSnapshot(ctx context.Context, slug, start, end string) (*models.Analytics, error) {
	data, err := r.redis.Client.Get(ctx, snapshotKey(slug, start, end)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var snapshot models.Analytics
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analytics snapshot: %w", err)
	}

	return &snapshot, nil
}

func (r *counterRepository) SetSnapshot(ctx context.Context, snapshot *models.Analytics, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics snapshot: %w", err)
	}
	return r.redis.Client.Set(ctx, snapshotKey(snapshot.Slug, snapshot.StartDate, snapshot.EndDate), data, ttl).Err()
}

func (r *counterRepository) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.redis.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.redis.Client.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (r *counterRepository) WindowTTL(ctx context.Context, key string) (time.Duration, error) {
	return r.redis.Client.TTL(ctx, key).Result()
}

func (r *counterRepository) ClearWindow(ctx context.Context, key string) error {
	return r.redis.Client.Del(ctx, key).Err()
}

func dailyKey(slug string, day time.Time) string {
	return "dailyclicks:" + slug + ":" + day.Format("2006-01-02")
}

func snapshotKey(slug, start, end string) string {
	return "analytics:" + slug + ":" + start + ":" + end
}
