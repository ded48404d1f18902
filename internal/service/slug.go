package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/SergeiKhy/shortly/internal/repository"
)

const (
	slugCharset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	slugBaseLength  = 6
	slugMaxGrowth   = 3
	slugMaxAttempts = 10
)

var customSlugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{4,30}$`)

// SlugGenerator генерирует короткие уникальные слаги.
// Сама по себе уникальность не гарантируется — она обеспечивается
// уникальным индексом при вставке; конфликт вставки означает повторную
// генерацию на стороне вызывающего.
type SlugGenerator struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
}

func NewSlugGenerator(linkRepo repository.LinkRepository, cacheRepo repository.CacheRepository) *SlugGenerator {
	return &SlugGenerator{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
	}
}

// Generate подбирает свободный слаг: длина начинается с 6 символов и растёт
// на один каждые две неудачные попытки (не более +3). Если за 10 попыток
// свободный слаг не найден, к последнему добавляется суффикс из временной
// метки.
func (g *SlugGenerator) Generate(ctx context.Context) (string, error) {
	var slug string

	for attempt := 0; attempt < slugMaxAttempts; attempt++ {
		length := slugBaseLength + attempt/2
		if length > slugBaseLength+slugMaxGrowth {
			length = slugBaseLength + slugMaxGrowth
		}

		var err error
		slug, err = randomSlug(length)
		if err != nil {
			return "", fmt.Errorf("failed to generate slug: %w", err)
		}

		taken, err := g.isTaken(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}

	// Все попытки заняты: форсируем уникальность временной меткой.
	// Теоретическая гонка остаётся, её закрывает уникальный индекс.
	ts := fmt.Sprintf("%d", time.Now().Unix())
	return slug + ts[len(ts)-4:], nil
}

// isTaken проверяет слаг сначала в кэше, затем в хранилище
func (g *SlugGenerator) isTaken(ctx context.Context, slug string) (bool, error) {
	cached, err := g.cacheRepo.Exists(ctx, slug)
	if err == nil && cached {
		return true, nil
	}

	exists, err := g.linkRepo.SlugExists(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("failed to check slug existence: %w", err)
	}
	return exists, nil
}

// ValidateCustomSlug проверяет пользовательский слаг: 4-30 символов,
// буквы, цифры, дефис, подчёркивание
func ValidateCustomSlug(slug string) bool {
	return customSlugPattern.MatchString(slug)
}

func randomSlug(length int) (string, error) {
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(slugCharset))))
		if err != nil {
			return "", err
		}
		result[i] = slugCharset[num.Int64()]
	}
	return string(result), nil
}
