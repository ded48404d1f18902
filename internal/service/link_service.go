package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL    = errors.New("невалидный URL")
	ErrInvalidSlug   = errors.New("невалидный кастомный слаг")
	ErrInvalidExpiry = errors.New("срок жизни должен быть в будущем")
	ErrSlugConflict  = errors.New("слаг уже занят")
	ErrNotFound      = errors.New("ссылка не найдена")
	ErrForbidden     = errors.New("доступ запрещён")
)

const (
	// TTL кэша редиректов по умолчанию: 30 дней или до истечения ссылки,
	// смотря что раньше
	defaultCacheTTL = 30 * 24 * time.Hour
	maxURLLength    = 2048
	createAttempts  = 3 // повторные попытки при конфликте вставки
)

var urlPattern = regexp.MustCompile(`^https?://[^\s]+$`)

// LinkService операции над короткими ссылками
type LinkService interface {
	Shorten(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error)
	// Resolve возвращает исходный URL для редиректа (кэш, затем БД)
	Resolve(ctx context.Context, slug string) (string, error)
	GetLink(ctx context.Context, slug string) (*models.Link, error)
	// GetLinkSummary то же, что GetLink, плюс живой счётчик кликов
	GetLinkSummary(ctx context.Context, slug string) (*models.LinkSummary, error)
	UpdateLink(ctx context.Context, slug string, requesterID int64, patch *models.UpdateLinkInput) (*models.Link, error)
	DeleteLink(ctx context.Context, slug string, requesterID int64) error
	ListLinks(ctx context.Context, q models.ListLinksQuery) ([]*models.LinkSummary, error)
}

type linkService struct {
	linkRepo    repository.LinkRepository
	cacheRepo   repository.CacheRepository
	clickRepo   repository.ClickRepository
	counterRepo repository.CounterRepository
	slugGen     *SlugGenerator
	baseURL     string
	logger      *zap.Logger
}

func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	clickRepo repository.ClickRepository,
	counterRepo repository.CounterRepository,
	slugGen *SlugGenerator,
	baseURL string,
	logger *zap.Logger,
) LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &linkService{
		linkRepo:    linkRepo,
		cacheRepo:   cacheRepo,
		clickRepo:   clickRepo,
		counterRepo: counterRepo,
		slugGen:     slugGen,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// Shorten создаёт короткую ссылку. Для авторизованного пользователя
// повторное сокращение того же URL возвращает уже существующую живую ссылку.
func (s *linkService) Shorten(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	if err := validateURL(input.OriginalURL); err != nil {
		return nil, err
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return nil, ErrInvalidExpiry
	}

	if input.UserID != nil && input.CustomSlug == nil {
		existing, err := s.linkRepo.GetActiveByURL(ctx, *input.UserID, input.OriginalURL)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrLinkNotFound) {
			return nil, err
		}
	}

	isCustom := input.CustomSlug != nil && *input.CustomSlug != ""
	if isCustom && !ValidateCustomSlug(*input.CustomSlug) {
		return nil, ErrInvalidSlug
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		slug := ""
		if isCustom {
			slug = *input.CustomSlug
		} else {
			generated, err := s.slugGen.Generate(ctx)
			if err != nil {
				return nil, err
			}
			slug = generated
		}

		link := &models.Link{
			Slug:        slug,
			OriginalURL: input.OriginalURL,
			UserID:      input.UserID,
			IsCustom:    isCustom,
			ExpiresAt:   input.ExpiresAt,
			CreatedAt:   time.Now(),
		}

		err := s.linkRepo.Create(ctx, link)
		if err == nil {
			s.cacheLink(ctx, link)
			return link, nil
		}
		if errors.Is(err, repository.ErrSlugTaken) {
			if isCustom {
				return nil, ErrSlugConflict
			}
			// гонка на сгенерированном слаге — пробуем заново
			s.logger.Debug("Конфликт слага при вставке, повторная генерация",
				zap.String("slug", slug),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed to create link after %d attempts: %w", createAttempts, ErrSlugConflict)
}

// Resolve горячий путь редиректа: кэш, на промахе — хранилище с
// read-through наполнением кэша. Отсутствие ссылки не кэшируется.
func (s *linkService) Resolve(ctx context.Context, slug string) (string, error) {
	url, err := s.cacheRepo.Get(ctx, slug)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		// Кэш недоступен: деградируем до хранилища, редирект важнее
		s.logger.Warn("Кэш редиректов недоступен", zap.Error(err))
	}

	link, err := s.linkRepo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	s.cacheLink(ctx, link)
	return link.OriginalURL, nil
}

func (s *linkService) GetLink(ctx context.Context, slug string) (*models.Link, error) {
	link, err := s.linkRepo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return link, nil
}

func (s *linkService) GetLinkSummary(ctx context.Context, slug string) (*models.LinkSummary, error) {
	link, err := s.GetLink(ctx, slug)
	if err != nil {
		return nil, err
	}

	count, err := s.clickCount(ctx, link)
	if err != nil {
		return nil, err
	}

	return &models.LinkSummary{
		Link:       *link,
		ShortURL:   s.baseURL + "/" + link.Slug,
		ClickCount: count,
	}, nil
}

// UpdateLink обновляет ссылку. Ротация слага инвалидирует старый ключ кэша
// и записывает новый.
func (s *linkService) UpdateLink(ctx context.Context, slug string, requesterID int64, patch *models.UpdateLinkInput) (*models.Link, error) {
	link, err := s.linkRepo.GetBySlugAny(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if link.UserID == nil || *link.UserID != requesterID {
		return nil, ErrForbidden
	}

	oldSlug := link.Slug

	if patch.CustomSlug != nil && *patch.CustomSlug != oldSlug {
		if !ValidateCustomSlug(*patch.CustomSlug) {
			return nil, ErrInvalidSlug
		}
		link.Slug = *patch.CustomSlug
		link.IsCustom = true
	}
	if patch.OriginalURL != nil {
		if err := validateURL(*patch.OriginalURL); err != nil {
			return nil, err
		}
		link.OriginalURL = *patch.OriginalURL
	}
	if patch.ExpiresAt != nil {
		if !patch.ExpiresAt.After(time.Now()) {
			return nil, ErrInvalidExpiry
		}
		link.ExpiresAt = patch.ExpiresAt
	}

	if err := s.linkRepo.Update(ctx, link); err != nil {
		switch {
		case errors.Is(err, repository.ErrSlugTaken):
			return nil, ErrSlugConflict
		case errors.Is(err, repository.ErrLinkNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Старый ключ больше не должен резолвиться
	if link.Slug != oldSlug {
		if err := s.cacheRepo.Delete(ctx, oldSlug); err != nil {
			s.logger.Warn("Не удалось инвалидировать старый ключ кэша",
				zap.String("slug", oldSlug), zap.Error(err))
		}
	}
	s.cacheLink(ctx, link)

	return link, nil
}

// DeleteLink мягко удаляет ссылку вместе с историей кликов и записью кэша
func (s *linkService) DeleteLink(ctx context.Context, slug string, requesterID int64) error {
	link, err := s.linkRepo.GetBySlugAny(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return err
	}

	if link.UserID == nil || *link.UserID != requesterID {
		return ErrForbidden
	}

	if err := s.clickRepo.DeleteForLink(ctx, link.ID); err != nil {
		return err
	}

	if err := s.linkRepo.SoftDelete(ctx, slug); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.cacheRepo.Delete(ctx, slug); err != nil {
		s.logger.Warn("Не удалось удалить ключ кэша", zap.String("slug", slug), zap.Error(err))
	}

	return nil
}

// ListLinks список ссылок пользователя с живыми счётчиками кликов:
// сначала быстрый счётчик, при его отсутствии — подсчёт в хранилище
func (s *linkService) ListLinks(ctx context.Context, q models.ListLinksQuery) ([]*models.LinkSummary, error) {
	links, err := s.linkRepo.ListByUser(ctx, q)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.LinkSummary, 0, len(links))
	for _, link := range links {
		count, err := s.clickCount(ctx, link)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &models.LinkSummary{
			Link:       *link,
			ShortURL:   s.baseURL + "/" + link.Slug,
			ClickCount: count,
		})
	}

	return summaries, nil
}

// clickCount сначала спрашивает быстрый счётчик, на промахе считает в хранилище
func (s *linkService) clickCount(ctx context.Context, link *models.Link) (int64, error) {
	count, err := s.counterRepo.GetClickCount(ctx, link.Slug)
	if err == nil {
		return count, nil
	}
	return s.clickRepo.CountForLink(ctx, link.ID)
}

// cacheLink записывает ссылку в кэш редиректов; ошибка кэша не фатальна
func (s *linkService) cacheLink(ctx context.Context, link *models.Link) {
	ttl := defaultCacheTTL
	if link.ExpiresAt != nil {
		if until := time.Until(*link.ExpiresAt); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return
	}
	if err := s.cacheRepo.Set(ctx, link.Slug, link.OriginalURL, ttl); err != nil {
		s.logger.Warn("Не удалось записать ссылку в кэш",
			zap.String("slug", link.Slug), zap.Error(err))
	}
}

func validateURL(url string) error {
	if len(url) > maxURLLength || !urlPattern.MatchString(url) {
		return ErrInvalidURL
	}
	return nil
}
