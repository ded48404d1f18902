package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu     sync.RWMutex
	links  map[int64]*models.Link // id -> link
	nextID int64
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links:  make(map[int64]*models.Link),
		nextID: 1,
	}
}

func (m *MockLinkRepository) alive(l *models.Link) bool {
	return l.DeletedAt == nil && !l.IsExpired()
}

func (m *MockLinkRepository) findBySlug(slug string, includeExpired bool) *models.Link {
	for _, l := range m.links {
		if l.Slug != slug || l.DeletedAt != nil {
			continue
		}
		if includeExpired || !l.IsExpired() {
			return l
		}
	}
	return nil
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findBySlug(link.Slug, false); existing != nil {
		return repository.ErrSlugTaken
	}

	link.ID = m.nextID
	m.nextID++
	link.UpdatedAt = link.CreatedAt
	cp := *link
	m.links[link.ID] = &cp
	return nil
}

func (m *MockLinkRepository) GetBySlug(ctx context.Context, slug string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l := m.findBySlug(slug, false); l != nil {
		cp := *l
		return &cp, nil
	}
	return nil, repository.ErrLinkNotFound
}

func (m *MockLinkRepository) GetBySlugAny(ctx context.Context, slug string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l := m.findBySlug(slug, true); l != nil {
		cp := *l
		return &cp, nil
	}
	return nil, repository.ErrLinkNotFound
}

func (m *MockLinkRepository) GetActiveByURL(ctx context.Context, userID int64, originalURL string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.links {
		if m.alive(l) && l.UserID != nil && *l.UserID == userID && l.OriginalURL == originalURL {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrLinkNotFound
}

func (m *MockLinkRepository) Update(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.links[link.ID]
	if !exists || stored.DeletedAt != nil {
		return repository.ErrLinkNotFound
	}
	if other := m.findBySlug(link.Slug, false); other != nil && other.ID != link.ID {
		return repository.ErrSlugTaken
	}

	link.UpdatedAt = time.Now()
	cp := *link
	m.links[link.ID] = &cp
	return nil
}

func (m *MockLinkRepository) SoftDelete(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findBySlug(slug, true)
	if l == nil {
		return repository.ErrLinkNotFound
	}
	now := time.Now()
	l.DeletedAt = &now
	return nil
}

func (m *MockLinkRepository) GetIDBySlug(ctx context.Context, slug string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l := m.findBySlug(slug, true); l != nil {
		return l.ID, nil
	}
	return 0, repository.ErrLinkNotFound
}

func (m *MockLinkRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBySlug(slug, false) != nil, nil
}

func (m *MockLinkRepository) ListByUser(ctx context.Context, q models.ListLinksQuery) ([]*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Link
	for _, l := range m.links {
		if l.DeletedAt != nil || l.UserID == nil || *l.UserID != q.UserID {
			continue
		}
		if q.Search != "" && !strings.Contains(l.OriginalURL, q.Search) && !strings.Contains(l.Slug, q.Search) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu      sync.RWMutex
	cache   map[string]string
	expires map[string]time.Time
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache:   make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, slug string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url, exists := m.cache[slug]
	if !exists || time.Now().After(m.expires[slug]) {
		return "", repository.ErrCacheMiss
	}
	return url, nil
}

func (m *MockCacheRepository) Set(ctx context.Context, slug string, originalURL string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[slug] = originalURL
	m.expires[slug] = time.Now().Add(ttl)
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, slug)
	delete(m.expires, slug)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.cache[slug]
	return exists && !time.Now().After(m.expires[slug]), nil
}

// MockClickRepository implements repository.ClickRepository for testing
type MockClickRepository struct {
	mu        sync.RWMutex
	clicks    []*models.Click
	insertErr error // если задана, InsertBatch возвращает её
}

func NewMockClickRepository() *MockClickRepository {
	return &MockClickRepository{}
}

func (m *MockClickRepository) FailInserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

func (m *MockClickRepository) InsertBatch(ctx context.Context, clicks []*models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return m.insertErr
	}
	m.clicks = append(m.clicks, clicks...)
	return nil
}

func (m *MockClickRepository) All() []*models.Click {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Click, len(m.clicks))
	copy(out, m.clicks)
	return out
}

func (m *MockClickRepository) CountInRange(ctx context.Context, linkID int64, shardID int, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, c := range m.clicks {
		if c.LinkID == linkID && c.ShardID == shardID &&
			!c.ClickedAt.Before(start) && c.ClickedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (m *MockClickRepository) CountForDay(ctx context.Context, linkID int64, shardID int, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return m.CountInRange(ctx, linkID, shardID, start, start.AddDate(0, 0, 1))
}

func (m *MockClickRepository) BreakdownBy(ctx context.Context, column string, linkID int64, shardID int, start, end time.Time, limit int) ([]models.BreakdownEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range m.clicks {
		if c.LinkID != linkID || c.ShardID != shardID ||
			c.ClickedAt.Before(start) || !c.ClickedAt.Before(end) {
			continue
		}
		var v string
		switch column {
		case "browser":
			v = c.Browser
		case "device_type":
			v = c.DeviceType
		case "referer":
			v = c.Referer
		}
		if v != "" {
			counts[v]++
		}
	}

	var entries []models.BreakdownEntry
	for v, n := range counts {
		entries = append(entries, models.BreakdownEntry{Value: v, Count: n})
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MockClickRepository) CountForLink(ctx context.Context, linkID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, c := range m.clicks {
		if c.LinkID == linkID {
			count++
		}
	}
	return count, nil
}

func (m *MockClickRepository) DeleteForLink(ctx context.Context, linkID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*models.Click
	for _, c := range m.clicks {
		if c.LinkID != linkID {
			kept = append(kept, c)
		}
	}
	m.clicks = kept
	return nil
}

// MockCounterRepository implements repository.CounterRepository for testing
type MockCounterRepository struct {
	mu        sync.RWMutex
	counters  map[string]int64
	expires   map[string]time.Time
	snapshots map[string]*models.Analytics
	windowErr error
}

// FailWindows заставляет операции окон возвращать err (имитация отказа Redis)
func (m *MockCounterRepository) FailWindows(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowErr = err
}

func NewMockCounterRepository() *MockCounterRepository {
	return &MockCounterRepository{
		counters:  make(map[string]int64),
		expires:   make(map[string]time.Time),
		snapshots: make(map[string]*models.Analytics),
	}
}

func (m *MockCounterRepository) IncrClickCount(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters["clickcount:"+slug]++
	return nil
}

func (m *MockCounterRepository) GetClickCount(ctx context.Context, slug string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, exists := m.counters["clickcount:"+slug]
	if !exists {
		return 0, repository.ErrCacheMiss
	}
	return n, nil
}

func (m *MockCounterRepository) IncrDailyClicks(ctx context.Context, slug string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters["dailyclicks:"+slug+":"+day.Format("2006-01-02")]++
	return nil
}

func (m *MockCounterRepository) GetDailyClicks(ctx context.Context, slug string, day time.Time) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, exists := m.counters["dailyclicks:"+slug+":"+day.Format("2006-01-02")]
	return n, exists, nil
}

// SetDailyClicks выставляет дневной счётчик напрямую (для тестов фолбэка)
func (m *MockCounterRepository) SetDailyClicks(slug string, day time.Time, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters["dailyclicks:"+slug+":"+day.Format("2006-01-02")] = n
}

// ExpireDailyClicks имитирует истечение дневного счётчика
func (m *MockCounterRepository) ExpireDailyClicks(slug string, day time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, "dailyclicks:"+slug+":"+day.Format("2006-01-02"))
}

func (m *MockCounterRepository) GetSnapshot(ctx context.Context, slug, start, end string) (*models.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.snapshots[slug+":"+start+":"+end]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return s, nil
}

func (m *MockCounterRepository) SetSnapshot(ctx context.Context, snapshot *models.Analytics, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.Slug+":"+snapshot.StartDate+":"+snapshot.EndDate] = snapshot
	return nil
}

func (m *MockCounterRepository) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windowErr != nil {
		return 0, m.windowErr
	}
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.counters, key)
		delete(m.expires, key)
	}

	m.counters[key]++
	if m.counters[key] == 1 {
		m.expires[key] = time.Now().Add(window)
	}
	return m.counters[key], nil
}

func (m *MockCounterRepository) WindowTTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.expires[key]
	if !ok {
		return -2 * time.Second, nil // как Redis TTL для отсутствующего ключа
	}
	return time.Until(exp), nil
}

func (m *MockCounterRepository) ClearWindow(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	delete(m.expires, key)
	return nil
}
