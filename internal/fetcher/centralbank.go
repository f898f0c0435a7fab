package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

const (
	latestPath      = "/daily_json.js"
	archivePathTmpl = "/archive/%04d/%02d/%02d/daily_json.js"
)

// CentralBankOptions parameterise the central-bank rate fetcher.
type CentralBankOptions struct {
	BaseURL   string
	Base      currency.Code
	Timeout   time.Duration
	UserAgent string
}

// CentralBank reads the daily rate feed and its archive.
type CentralBank struct {
	opts    CentralBankOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCentralBank constructs a rate fetcher.
func NewCentralBank(opts CentralBankOptions, logger zerolog.Logger) *CentralBank {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Base == "" {
		opts.Base = currency.RUB
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.cbr-xml-daily.ru"
	}

	return &CentralBank{
		opts:    opts,
		logger:  logger.With().Str("component", "rate_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Latest returns today's published table.
func (c *CentralBank) Latest(ctx context.Context) (currency.Table, error) {
	return c.fetch(ctx, c.baseURL+latestPath)
}

// OnDate returns the table published for the given calendar date.
func (c *CentralBank) OnDate(ctx context.Context, date time.Time) (currency.Table, error) {
	path := fmt.Sprintf(archivePathTmpl, date.Year(), int(date.Month()), date.Day())
	return c.fetch(ctx, c.baseURL+path)
}

func (c *CentralBank) fetch(ctx context.Context, endpoint string) (currency.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("central bank api (%d): %w", resp.StatusCode, ErrNoData)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("central bank api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var daily dailyResponse
	if err := json.Unmarshal(payload, &daily); err != nil {
		return nil, fmt.Errorf("decode central bank payload: %w", err)
	}

	table := currency.Table{c.opts.Base: decimal.NewFromInt(1)}
	for code, v := range daily.Valute {
		if v.Nominal <= 0 {
			continue
		}
		value, err := decimal.NewFromString(v.Value.String())
		if err != nil || !value.IsPositive() {
			c.logger.Debug().Str("currency", code).Msg("skipping malformed rate entry")
			continue
		}
		table[currency.Code(strings.ToUpper(code))] = value.Div(decimal.NewFromInt(v.Nominal))
	}

	c.logger.Debug().Str("date", daily.Date).Int("currencies", len(table)).Msg("rates fetched")
	return table, nil
}

type dailyResponse struct {
	Date   string                 `json:"Date"`
	Valute map[string]valuteEntry `json:"Valute"`
}

type valuteEntry struct {
	CharCode string      `json:"CharCode"`
	Nominal  int64       `json:"Nominal"`
	Value    json.Number `json:"Value"`
}

var _ RateSource = (*CentralBank)(nil)
