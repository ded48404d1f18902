package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/jackc/pgx/v5"
)

type ClickRepository interface {
	// InsertBatch записывает пачку кликов одним round-trip
	InsertBatch(ctx context.Context, clicks []*models.Click) error
	CountInRange(ctx context.Context, linkID int64, shardID int, start, end time.Time) (int64, error)
	CountForDay(ctx context.Context, linkID int64, shardID int, day time.Time) (int64, error)
	BreakdownBy(ctx context.Context, column string, linkID int64, shardID int, start, end time.Time, limit int) ([]models.BreakdownEntry, error)
	CountForLink(ctx context.Context, linkID int64) (int64, error)
	DeleteForLink(ctx context.Context, linkID int64) error
}

type clickRepository struct {
	db *PostgresDB
}

func NewClickRepository(db *PostgresDB) ClickRepository {
	return &clickRepository{db: db}
}

func (r *clickRepository) InsertBatch(ctx context.Context, clicks []*models.Click) error {
	if len(clicks) == 0 {
		return nil
	}

	query := `
		INSERT INTO clicks (link_id, slug, ip_address, user_agent, device_type, browser, platform, referer, shard_id, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	batch := &pgx.Batch{}
	for _, c := range clicks {
		batch.Queue(query,
			c.LinkID,
			c.Slug,
			c.IPAddress,
			c.UserAgent,
			c.DeviceType,
			c.Browser,
			c.Platform,
			c.Referer,
			c.ShardID,
			c.ClickedAt,
		)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range clicks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert click batch: %w", err)
		}
	}

	return nil
}

func (r *clickRepository) CountInRange(ctx context.Context, linkID int64, shardID int, start, end time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM clicks
		WHERE link_id = $1 AND shard_id = $2 AND clicked_at >= $3 AND clicked_at < $4
	`

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, linkID, shardID, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return count, nil
}

func (r *clickRepository) CountForDay(ctx context.Context, linkID int64, shardID int, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return r.CountInRange(ctx, linkID, shardID, start, start.AddDate(0, 0, 1))
}

// разрешённые колонки для группировки; защита от подстановки произвольного SQL
var breakdownColumns = map[string]bool{
	"browser":     true,
	"device_type": true,
	"referer":     true,
}

func (r *clickRepository) BreakdownBy(ctx context.Context, column string, linkID int64, shardID int, start, end time.Time, limit int) ([]models.BreakdownEntry, error) {
	if !breakdownColumns[column] {
		return nil, fmt.Errorf("unsupported breakdown column: %s", column)
	}

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS count
		FROM clicks
		WHERE link_id = $1 AND shard_id = $2 AND clicked_at >= $3 AND clicked_at < $4
		  AND %s <> ''
		GROUP BY %s
		ORDER BY count DESC
		LIMIT $5
	`, column, column, column)

	rows, err := r.db.Pool.Query(ctx, query, linkID, shardID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s breakdown: %w", column, err)
	}
	defer rows.Close()

	var entries []models.BreakdownEntry
	for rows.Next() {
		var e models.BreakdownEntry
		if err := rows.Scan(&e.Value, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan breakdown row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breakdown rows: %w", err)
	}

	return entries, nil
}

func (r *clickRepository) CountForLink(ctx context.Context, linkID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM clicks WHERE link_id = $1`

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, linkID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clicks for link: %w", err)
	}
	return count, nil
}

// DeleteForLink удаляет историю кликов каскадно при удалении ссылки
func (r *clickRepository) DeleteForLink(ctx context.Context, linkID int64) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM clicks WHERE link_id = $1`, linkID); err != nil {
		return fmt.Errorf("failed to delete clicks for link: %w", err)
	}
	return nil
}
