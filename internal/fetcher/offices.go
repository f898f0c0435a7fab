package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

// OfficesOptions parameterise the exchange-office fetcher.
type OfficesOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Limit     int
}

// Offices queries the price-comparison endpoint for exchange-office quotes.
type Offices struct {
	opts    OfficesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewOffices constructs an office fetcher.
func NewOffices(opts OfficesOptions, logger zerolog.Logger) *Offices {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Offices{
		opts:    opts,
		logger:  logger.With().Str("component", "office_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Offices returns well-formed office records; malformed items are skipped.
func (o *Offices) Offices(ctx context.Context, code currency.Code, region string) ([]Office, error) {
	if o.baseURL == "" {
		return nil, errors.New("office source url not configured")
	}
	if region == "" {
		return nil, errors.New("office region not configured")
	}

	endpoint, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse office source url: %w", err)
	}
	query := endpoint.Query()
	query.Set("currency", string(code))
	query.Set("region", region)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res officesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode office payload: %w", err)
	}

	offices := make([]Office, 0, len(res.Items))
	skipped := 0
	for _, item := range res.Items {
		office, ok := item.toOffice()
		if !ok {
			skipped++
			continue
		}
		offices = append(offices, office)
		if o.opts.Limit > 0 && len(offices) >= o.opts.Limit {
			break
		}
	}

	o.logger.Debug().Str("currency", string(code)).
		Int("offices", len(offices)).
		Int("skipped", skipped).
		Msg("offices fetched")
	return offices, nil
}

type officesResponse struct {
	Items []officeItem `json:"items"`
}

type officeItem struct {
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	Link      string          `json:"link"`
	Buy       json.RawMessage `json:"buy"`
	Sell      json.RawMessage `json:"sell"`
	UpdatedAt string          `json:"updated_at"`
}

func (i officeItem) toOffice() (Office, bool) {
	name := strings.TrimSpace(i.Name)
	if name == "" {
		return Office{}, false
	}
	buy, buyOK := parseQuote(i.Buy)
	sell, sellOK := parseQuote(i.Sell)
	if !buyOK && !sellOK {
		return Office{}, false
	}

	office := Office{
		Name:    name,
		Address: strings.TrimSpace(i.Address),
		Link:    strings.TrimSpace(i.Link),
		Buy:     buy,
		Sell:    sell,
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(i.UpdatedAt)); err == nil {
		office.RefreshedAt = ts
	}
	return office, true
}

// parseQuote accepts numbers and numeric strings such as "92,15".
func parseQuote(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, false
	}
	text := strings.Trim(string(raw), `"`)
	d, err := currency.ParseDecimal(text)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("office api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("office api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("office api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("office api error (%d)", status)
}

var _ OfficeSource = (*Offices)(nil)
