package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrSlugTaken    = errors.New("slug already taken")
)

type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	// GetBySlug возвращает только живую ссылку: не удалённую и не истёкшую
	GetBySlug(ctx context.Context, slug string) (*models.Link, error)
	// GetBySlugAny возвращает и истёкшую ссылку (для update/delete/analytics)
	GetBySlugAny(ctx context.Context, slug string) (*models.Link, error)
	GetActiveByURL(ctx context.Context, userID int64, originalURL string) (*models.Link, error)
	Update(ctx context.Context, link *models.Link) error
	SoftDelete(ctx context.Context, slug string) error
	GetIDBySlug(ctx context.Context, slug string) (int64, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListByUser(ctx context.Context, q models.ListLinksQuery) ([]*models.Link, error)
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, slug, original_url, user_id, is_custom, expires_at, created_at, updated_at, deleted_at`

func (r *linkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (slug, original_url, user_id, is_custom, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(
		ctx,
		query,
		link.Slug,
		link.OriginalURL,
		link.UserID,
		link.IsCustom,
		link.ExpiresAt,
		link.CreatedAt,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetBySlug(ctx context.Context, slug string) (*models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE slug = $1
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	return r.scanOne(ctx, query, slug)
}

func (r *linkRepository) GetBySlugAny(ctx context.Context, slug string) (*models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE slug = $1 AND deleted_at IS NULL
	`
	return r.scanOne(ctx, query, slug)
}

// GetActiveByURL ищет живую ссылку пользователя на тот же URL,
// чтобы не плодить дубликаты при повторном сокращении
func (r *linkRepository) GetActiveByURL(ctx context.Context, userID int64, originalURL string) (*models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE user_id = $1
		  AND original_url = $2
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(ctx, query, userID, originalURL)
}

func (r *linkRepository) Update(ctx context.Context, link *models.Link) error {
	query := `
		UPDATE links
		SET slug = $2, original_url = $3, is_custom = $4, expires_at = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		link.ID,
		link.Slug,
		link.OriginalURL,
		link.IsCustom,
		link.ExpiresAt,
	).Scan(&link.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLinkNotFound
		}
		if isUniqueViolation(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to update link: %w", err)
	}

	return nil
}

func (r *linkRepository) SoftDelete(ctx context.Context, slug string) error {
	query := `
		UPDATE links
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE slug = $1 AND deleted_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, slug)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (r *linkRepository) GetIDBySlug(ctx context.Context, slug string) (int64, error) {
	query := `SELECT id FROM links WHERE slug = $1 AND deleted_at IS NULL`

	var linkID int64
	err := r.db.Pool.QueryRow(ctx, query, slug).Scan(&linkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrLinkNotFound
		}
		return 0, fmt.Errorf("failed to get link ID: %w", err)
	}

	return linkID, nil
}

// SlugExists учитывает только живые ссылки: слаг истёкшей или удалённой
// ссылки можно переиспользовать
func (r *linkRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM links
			WHERE slug = $1
			  AND deleted_at IS NULL
			  AND (expires_at IS NULL OR expires_at > NOW())
		)
	`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (r *linkRepository) ListByUser(ctx context.Context, q models.ListLinksQuery) ([]*models.Link, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 100 {
		q.PerPage = 15
	}

	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE user_id = $1
		  AND deleted_at IS NULL
		  AND ($2 = '' OR original_url ILIKE '%' || $2 || '%' OR slug ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, q.UserID, q.Search, q.PerPage, (q.Page-1)*q.PerPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		link := &models.Link{}
		if err := scanLink(rows, link); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

func (r *linkRepository) scanOne(ctx context.Context, query string, args ...any) (*models.Link, error) {
	link := &models.Link{}
	row := r.db.Pool.QueryRow(ctx, query, args...)
	if err := scanLink(row, link); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

func scanLink(row pgx.Row, link *models.Link) error {
	return row.Scan(
		&link.ID,
		&link.Slug,
		&link.OriginalURL,
		&link.UserID,
		&link.IsCustom,
		&link.ExpiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
		&link.DeletedAt,
	)
}

// isUniqueViolation проверяет код ошибки 23505 (unique_violation)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
