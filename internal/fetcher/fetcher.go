package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

// ErrNoData signals that the source has nothing published for the request,
// e.g. an archive date that falls on a holiday.
var ErrNoData = errors.New("no data published")

// RateSource retrieves rate tables expressed in the base currency.
type RateSource interface {
	Latest(ctx context.Context) (currency.Table, error)
	OnDate(ctx context.Context, date time.Time) (currency.Table, error)
}

// Office is one exchange-office branch quote.
type Office struct {
	Name        string
	Address     string
	Link        string
	Buy         decimal.Decimal
	Sell        decimal.Decimal
	RefreshedAt time.Time
}

// OfficeSource lists exchange offices quoting a currency in a region.
type OfficeSource interface {
	Offices(ctx context.Context, code currency.Code, region string) ([]Office, error)
}
