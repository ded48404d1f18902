package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DropHandler вызывается для пачки, которую не удалось записать.
// По умолчанию пачка просто логируется и теряется (lossy best-effort);
// деплой с более строгими требованиями подставляет сюда свой dead-letter.
type DropHandler func(batchID string, events []*models.ClickEvent, err error)

// IngestorConfig параметры пайплайна кликов
type IngestorConfig struct {
	QueueSize     int
	BatchSize     int
	DrainInterval time.Duration
	Workers       int
	ShardCount    int
}

// ClickIngestor асинхронный пайплайн кликов: неблокирующий Enqueue на
// горячем пути редиректа, фоновый дренаж пачками в шардированное хранилище
type ClickIngestor interface {
	Start()
	Stop()
	// Enqueue не блокирует и не возвращает ошибку вызывающему:
	// событие считается отправленным в момент возврата
	Enqueue(event *models.ClickEvent)
	// Drain забирает из очереди до batchSize событий и записывает их
	// одной пачкой; возвращает количество записанных
	Drain(ctx context.Context, batchSize int) int
	SetDropHandler(h DropHandler)
	Stats() QueueStats
}

type clickIngestor struct {
	clickRepo   repository.ClickRepository
	linkRepo    repository.LinkRepository
	counterRepo repository.CounterRepository
	logger      *zap.Logger
	cfg         IngestorConfig

	queue  chan *models.ClickEvent
	onDrop DropHandler
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClickIngestor(
	clickRepo repository.ClickRepository,
	linkRepo repository.LinkRepository,
	counterRepo repository.CounterRepository,
	cfg IngestorConfig,
	logger *zap.Logger,
) ClickIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 10
	}

	ing := &clickIngestor{
		clickRepo:   clickRepo,
		linkRepo:    linkRepo,
		counterRepo: counterRepo,
		logger:      logger,
		cfg:         cfg,
		queue:       make(chan *models.ClickEvent, cfg.QueueSize),
	}
	ing.onDrop = ing.logDrop
	return ing
}

func (p *clickIngestor) SetDropHandler(h DropHandler) {
	if h != nil {
		p.onDrop = h
	}
}

// Start запускает фоновые drain-воркеры
func (p *clickIngestor) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("Запуск воркеров ингестора кликов", zap.Int("count", p.cfg.Workers))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop останавливает воркеры, предварительно доливая остаток очереди
func (p *clickIngestor) Stop() {
	p.logger.Info("Остановка ингестора кликов...")
	p.cancel()
	p.wg.Wait()

	// Финальный дренаж того, что осталось в буфере
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for p.Drain(ctx, p.cfg.BatchSize) > 0 {
	}

	p.logger.Info("Ингестор кликов остановлен")
}

func (p *clickIngestor) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	p.logger.Debug("Drain-воркер запущен", zap.Int("id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Drain-воркер остановлен", zap.Int("id", id))
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
			p.Drain(ctx, p.cfg.BatchSize)
			cancel()
		}
	}
}

// Enqueue кладёт событие в очередь и синхронно инкрементирует быстрые
// счётчики. Очередь переполнена — событие теряется, редирект не страдает.
func (p *clickIngestor) Enqueue(event *models.ClickEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.bumpCounters(event.Slug, event.Timestamp)

	select {
	case p.queue <- event:
	default:
		p.logger.Warn("Очередь кликов переполнена, событие потеряно",
			zap.String("slug", event.Slug),
		)
	}
}

// bumpCounters атомарные INCR в Redis; ошибки только логируются
func (p *clickIngestor) bumpCounters(slug string, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.counterRepo.IncrClickCount(ctx, slug); err != nil {
		p.logger.Warn("Не удалось инкрементировать счётчик кликов",
			zap.String("slug", slug), zap.Error(err))
	}
	if err := p.counterRepo.IncrDailyClicks(ctx, slug, ts); err != nil {
		p.logger.Warn("Не удалось инкрементировать дневной счётчик",
			zap.String("slug", slug), zap.Error(err))
	}
}

// Drain атомарно забирает события из канала (приём из канала эксклюзивен,
// конкурентные воркеры не обрабатывают одно событие дважды), обогащает их
// и вставляет одной пачкой. Пачка, которую не удалось записать, отдаётся
// drop-хендлеру и не ретраится бесконечно.
func (p *clickIngestor) Drain(ctx context.Context, batchSize int) int {
	events := p.collect(batchSize)
	if len(events) == 0 {
		return 0
	}

	clicks := make([]*models.Click, 0, len(events))
	for _, event := range events {
		linkID, err := p.linkRepo.GetIDBySlug(ctx, event.Slug)
		if err != nil {
			if errors.Is(err, repository.ErrLinkNotFound) {
				// Ссылка удалена, пока событие лежало в очереди
				continue
			}
			p.onDrop(uuid.NewString(), events, err)
			return 0
		}

		deviceType, browser, platform := ClassifyUserAgent(event.UserAgent)

		clicks = append(clicks, &models.Click{
			LinkID:     linkID,
			Slug:       event.Slug,
			IPAddress:  event.IPAddress,
			UserAgent:  event.UserAgent,
			DeviceType: deviceType,
			Browser:    browser,
			Platform:   platform,
			Referer:    event.Referer,
			ShardID:    ShardFor(event.Slug, p.cfg.ShardCount),
			ClickedAt:  event.Timestamp,
		})
	}

	if len(clicks) == 0 {
		return 0
	}

	if err := p.clickRepo.InsertBatch(ctx, clicks); err != nil {
		p.onDrop(uuid.NewString(), events, err)
		return 0
	}

	return len(clicks)
}

// collect неблокирующе снимает с канала до batchSize событий
func (p *clickIngestor) collect(batchSize int) []*models.ClickEvent {
	var events []*models.ClickEvent
	for len(events) < batchSize {
		select {
		case event := <-p.queue:
			events = append(events, event)
		default:
			return events
		}
	}
	return events
}

func (p *clickIngestor) logDrop(batchID string, events []*models.ClickEvent, err error) {
	p.logger.Error("Пачка кликов отброшена",
		zap.String("batch_id", batchID),
		zap.Int("size", len(events)),
		zap.Error(err),
	)
}

// QueueStats текущее состояние очереди для мониторинга
type QueueStats struct {
	BufferSize  int `json:"buffer_size"`
	BufferUsed  int `json:"buffer_used"`
	WorkerCount int `json:"worker_count"`
}

func (p *clickIngestor) Stats() QueueStats {
	return QueueStats{
		BufferSize:  cap(p.queue),
		BufferUsed:  len(p.queue),
		WorkerCount: p.cfg.Workers,
	}
}
