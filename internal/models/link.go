package models

import (
	"time"
)

// Link короткая ссылка (запись в таблице links)
type Link struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	OriginalURL string     `json:"original_url"`
	UserID      *int64     `json:"user_id,omitempty"` // nil — анонимная ссылка
	IsCustom    bool       `json:"is_custom"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"` // soft delete
}

// IsExpired проверяет, истёк ли срок жизни ссылки
func (l *Link) IsExpired() bool {
	if l.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*l.ExpiresAt)
}

// CreateLinkInput входные данные для создания ссылки
type CreateLinkInput struct {
	OriginalURL string     `json:"original_url" binding:"required,url"`
	CustomSlug  *string    `json:"custom_slug,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UserID      *int64     `json:"-"` // берётся из контекста запроса, не из тела
}

// UpdateLinkInput частичное обновление ссылки; nil-поля не изменяются
type UpdateLinkInput struct {
	CustomSlug  *string    `json:"custom_slug,omitempty"`
	OriginalURL *string    `json:"original_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ListLinksQuery параметры выборки ссылок пользователя
type ListLinksQuery struct {
	UserID  int64
	Search  string
	Page    int
	PerPage int
}

// LinkSummary элемент списка ссылок пользователя с живым счётчиком кликов
type LinkSummary struct {
	Link
	ShortURL   string `json:"short_url"`
	ClickCount int64  `json:"click_count"`
}
