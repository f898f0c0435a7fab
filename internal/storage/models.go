package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

// RateSnapshot is one currency's published rate for a calendar day.
type RateSnapshot struct {
	Day       time.Time
	Currency  currency.Code
	Rate      decimal.Decimal
	Source    string
	CreatedAt time.Time
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
