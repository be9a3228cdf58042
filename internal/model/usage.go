package model

import "time"

// MonthKey formats t as the ledger month key (YYYY-MM, UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DayKey formats t as the ledger day key (YYYY-MM-DD, UTC).
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UsageLedger tracks oracle spend for one calendar month.
type UsageLedger struct {
	Month        string             `json:"month"`
	Version      int                `json:"version"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	TotalCost    float64            `json:"total_cost"`
	TotalCalls   int64              `json:"total_calls"`
	DailyCalls   map[string]int64   `json:"daily_calls"`
	DomainCalls  map[string]int64   `json:"domain_calls"`
	DomainCost   map[string]float64 `json:"domain_cost"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewUsageLedger returns an empty ledger for the month containing now.
func NewUsageLedger(now time.Time) *UsageLedger {
	return &UsageLedger{
		Month:       MonthKey(now),
		DailyCalls:  make(map[string]int64),
		DomainCalls: make(map[string]int64),
		DomainCost:  make(map[string]float64),
		UpdatedAt:   now,
	}
}

// EnsureMaps initialises nil maps after decoding.
func (l *UsageLedger) EnsureMaps() {
	if l.DailyCalls == nil {
		l.DailyCalls = make(map[string]int64)
	}
	if l.DomainCalls == nil {
		l.DomainCalls = make(map[string]int64)
	}
	if l.DomainCost == nil {
		l.DomainCost = make(map[string]float64)
	}
}
