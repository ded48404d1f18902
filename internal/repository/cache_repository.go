package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheRepository кэш редиректов: slug -> исходный URL.
// Отрицательные результаты не кэшируются, чтобы не маскировать ссылку,
// созданную после промаха.
type CacheRepository interface {
	Get(ctx context.Context, slug string) (string, error)
	Set(ctx context.Context, slug string, originalURL string, ttl time.Duration) error
	Delete(ctx context.Context, slug string) error
	Exists(ctx context.Context, slug string) (bool, error)
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, slug string) (string, error) {
	url, err := r.redis.Client.Get(ctx, r.key(slug)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return url, nil
}

func (r *cacheRepository) Set(ctx context.Context, slug string, originalURL string, ttl time.Duration) error {
	return r.redis.Client.Set(ctx, r.key(slug), originalURL, ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, slug string) error {
	return r.redis.Client.Del(ctx, r.key(slug)).Err()
}

func (r *cacheRepository) Exists(ctx context.Context, slug string) (bool, error) {
	n, err := r.redis.Client.Exists(ctx, r.key(slug)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *cacheRepository) key(slug string) string {
	return "url:" + slug
}
