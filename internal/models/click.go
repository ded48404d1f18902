package models

import (
	"time"
)

// Типы устройств, определяемые по User-Agent
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
	DeviceOther   = "other"
)

// ClickEvent сырое событие клика, попадающее в очередь на редиректе.
// После постановки в очередь не изменяется.
type ClickEvent struct {
	Slug      string
	IPAddress string
	UserAgent string
	Referer   string
	Timestamp time.Time
}

// Click обработанный клик (запись в шардированной таблице clicks)
type Click struct {
	ID         int64     `json:"id"`
	LinkID     int64     `json:"link_id"`
	Slug       string    `json:"slug"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
	Platform   string    `json:"platform"`
	Referer    string    `json:"referer,omitempty"`
	ShardID    int       `json:"shard_id"`
	ClickedAt  time.Time `json:"clicked_at"`
}
