package service

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/repository"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var ErrInvalidDateRange = errors.New("невалидный диапазон дат")

// AnalyticsConfig параметры агрегатора
type AnalyticsConfig struct {
	SnapshotTTL time.Duration
	TopN        int
	ShardCount  int
}

// AnalyticsService агрегатор статистики по ссылке за диапазон дат
type AnalyticsService interface {
	// GetAnalytics считает снапшот аналитики. Доступ только владельцу:
	// авторизация запроса внешняя, здесь проверяется владение ссылкой.
	GetAnalytics(ctx context.Context, slug string, requesterID int64, startDate, endDate string) (*models.Analytics, error)
}

type analyticsService struct {
	linkRepo    repository.LinkRepository
	clickRepo   repository.ClickRepository
	counterRepo repository.CounterRepository
	cfg         AnalyticsConfig
	logger      *zap.Logger
}

func NewAnalyticsService(
	linkRepo repository.LinkRepository,
	clickRepo repository.ClickRepository,
	counterRepo repository.CounterRepository,
	cfg AnalyticsConfig,
	logger *zap.Logger,
) AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 10 * time.Minute
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 10
	}
	return &analyticsService{
		linkRepo:    linkRepo,
		clickRepo:   clickRepo,
		counterRepo: counterRepo,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *analyticsService) GetAnalytics(ctx context.Context, slug string, requesterID int64, startDate, endDate string) (*models.Analytics, error) {
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

	start, end, err := parseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	startDate = start.Format(dateLayout)
	endDate = end.Format(dateLayout)

	// Снапшот с коротким TTL: производные данные, никогда не авторитетны
	if cached, err := s.counterRepo.GetSnapshot(ctx, slug, startDate, endDate); err == nil {
		return cached, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("Кэш снапшотов недоступен", zap.Error(err))
	}

	snapshot, err := s.compute(ctx, link, start, end)
	if err != nil {
		return nil, err
	}
	snapshot.StartDate = startDate
	snapshot.EndDate = endDate

	if err := s.counterRepo.SetSnapshot(ctx, snapshot, s.cfg.SnapshotTTL); err != nil {
		s.logger.Warn("Не удалось закэшировать снапшот",
			zap.String("slug", link.Slug), zap.Error(err))
	}

	return snapshot, nil
}

// compute собирает снапшот: суммарные клики и разбивки из шарда хранилища,
// дневная серия — счётчики Redis с фолбэком в хранилище по отсутствующим дням
func (s *analyticsService) compute(ctx context.Context, link *models.Link, start, end time.Time) (*models.Analytics, error) {
	// Тот же детерминированный шард, что у ингестора
	shardID := ShardFor(link.Slug, s.cfg.ShardCount)
	rangeEnd := end.AddDate(0, 0, 1) // конец диапазона включительно

	total, err := s.clickRepo.CountInRange(ctx, link.ID, shardID, start, rangeEnd)
	if err != nil {
		return nil, err
	}

	daily, err := s.dailySeries(ctx, link, shardID, start, end)
	if err != nil {
		return nil, err
	}

	browsers, err := s.clickRepo.BreakdownBy(ctx, "browser", link.ID, shardID, start, rangeEnd, s.cfg.TopN)
	if err != nil {
		return nil, err
	}
	devices, err := s.clickRepo.BreakdownBy(ctx, "device_type", link.ID, shardID, start, rangeEnd, s.cfg.TopN)
	if err != nil {
		return nil, err
	}
	referrers, err := s.clickRepo.BreakdownBy(ctx, "referer", link.ID, shardID, start, rangeEnd, s.cfg.TopN)
	if err != nil {
		return nil, err
	}

	return &models.Analytics{
		Slug:         link.Slug,
		TotalClicks:  total,
		DailyClicks:  daily,
		Browsers:     browsers,
		Devices:      devices,
		TopReferrers: referrers,
	}, nil
}

// dailySeries по дню на точку: свежие дни отвечают из быстрых счётчиков,
// дни с истёкшим (или никогда не заводившимся) счётчиком — из хранилища
func (s *analyticsService) dailySeries(ctx context.Context, link *models.Link, shardID int, start, end time.Time) ([]models.DailyClicks, error) {
	var series []models.DailyClicks

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		count, found, err := s.counterRepo.GetDailyClicks(ctx, link.Slug, day)
		if err != nil {
			s.logger.Warn("Счётчики недоступны, фолбэк в хранилище", zap.Error(err))
			found = false
		}
		if !found {
			count, err = s.clickRepo.CountForDay(ctx, link.ID, shardID, day)
			if err != nil {
				return nil, err
			}
		}
		series = append(series, models.DailyClicks{
			Date:  day.Format(dateLayout),
			Count: count,
		})
	}

	return series, nil
}

// parseDateRange разбирает границы диапазона; пустые границы — последние 30 дней
func parseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	end := now
	start := now.AddDate(0, 0, -30)

	var err error
	if endDate != "" {
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidDateRange
		}
	}
	if startDate != "" {
		start, err = time.Parse(dateLayout, startDate)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidDateRange
		}
	}

	start = truncateToDay(start)
	end = truncateToDay(end)
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}

	return start, end, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
