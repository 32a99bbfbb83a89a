package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRow represents one trading day of OHLC data for an index.
// (symbol, date) is unique; re-ingesting the same day overwrites the row.
type PriceRow struct {
	Symbol    string
	Date      time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	CreatedAt time.Time
}

// AlertRule is a threshold rule evaluated once per ingestion pass.
// LastResult is tri-state: nil means the rule has never been evaluated
// with a price available for its symbol.
type AlertRule struct {
	ID              int64
	SymbolCode      string
	Direction       string
	Threshold       decimal.Decimal
	Severity        string
	Email           string
	Enabled         bool
	LastResult      *bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// RuleStateUpdate carries the per-rule fields written back after evaluation.
// LastTriggeredAt is only set when a notification was delivered.
type RuleStateUpdate struct {
	LastResult      bool
	LastTriggeredAt *time.Time
}

// DateOnly normalises a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
