package models

// DailyClicks количество кликов за один день
type DailyClicks struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// BreakdownEntry одна строка разбивки (браузер/устройство/реферер)
type BreakdownEntry struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Analytics агрегированная статистика по ссылке за диапазон дат.
// Производные данные: кэшируются с коротким TTL, никогда не авторитетны.
type Analytics struct {
	Slug         string           `json:"slug"`
	StartDate    string           `json:"start_date"`
	EndDate      string           `json:"end_date"`
	TotalClicks  int64            `json:"total_clicks"`
	DailyClicks  []DailyClicks    `json:"daily_clicks"`
	Browsers     []BreakdownEntry `json:"browsers"`
	Devices      []BreakdownEntry `json:"devices"`
	TopReferrers []BreakdownEntry `json:"top_referrers"`
}
