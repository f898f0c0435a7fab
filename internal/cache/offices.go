package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/fetcher"
	"currency-exchange-bot/internal/kv"
)

// OfficeOptions tune the office-listing cache.
type OfficeOptions struct {
	Region   string
	TTL      time.Duration
	Observer Observer
}

type officeEntry struct {
	fetchedAt time.Time
	records   []fetcher.Office
}

// OfficeCache memoizes office listings with a separate TTL entry per currency.
type OfficeCache struct {
	src      fetcher.OfficeSource
	region   string
	ttl      time.Duration
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	entries *kv.Map[currency.Code, officeEntry]
	group   singleflight.Group
}

// NewOfficeCache wraps src with a per-currency TTL cache.
func NewOfficeCache(src fetcher.OfficeSource, opts OfficeOptions, logger zerolog.Logger) *OfficeCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &OfficeCache{
		src:      src,
		region:   opts.Region,
		ttl:      ttl,
		observer: opts.Observer,
		logger:   logger.With().Str("component", "office_cache").Logger(),
		now:      time.Now,
		entries:  kv.New[currency.Code, officeEntry](),
	}
}

// Offices returns the listing for code and the time it was fetched. Refreshing one
// currency never touches another currency's entry.
func (c *OfficeCache) Offices(ctx context.Context, code currency.Code, force bool) ([]fetcher.Office, time.Time, error) {
	if !force {
		if entry, ok := c.entries.Get(code); ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return cloneOffices(entry.records), entry.fetchedAt, nil
		}
	}

	v, err, _ := c.group.Do(string(code), func() (any, error) {
		records, err := c.src.Offices(ctx, code, c.region)
		if c.observer != nil {
			c.observer.ObserveFetch("offices", err)
		}
		if err != nil {
			return nil, err
		}
		entry := officeEntry{fetchedAt: c.now(), records: cloneOffices(records)}
		c.entries.Set(code, entry)
		return entry, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("currency", string(code)).Bool("force", force).Msg("office refresh failed")
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	entry := v.(officeEntry)
	return cloneOffices(entry.records), entry.fetchedAt, nil
}

func cloneOffices(in []fetcher.Office) []fetcher.Office {
	if in == nil {
		return nil
	}
	out := make([]fetcher.Office, len(in))
	copy(out, in)
	return out
}
