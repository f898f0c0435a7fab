package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/fetcher"
)

// ErrUnavailable is returned when the upstream source failed and nothing was refreshed.
var ErrUnavailable = errors.New("source unavailable")

// Observer receives the outcome of every upstream fetch. Metrics implement it.
type Observer interface {
	ObserveFetch(source string, err error)
}

// RateOptions tune the rate cache.
type RateOptions struct {
	TTL      time.Duration
	Observer Observer
}

// RateCache memoizes the latest rate table.
type RateCache struct {
	src      fetcher.RateSource
	ttl      time.Duration
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	table     currency.Table
	fetchedAt time.Time

	group singleflight.Group
}

// NewRateCache wraps src with a TTL cache.
func NewRateCache(src fetcher.RateSource, opts RateOptions, logger zerolog.Logger) *RateCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RateCache{
		src:      src,
		ttl:      ttl,
		observer: opts.Observer,
		logger:   logger.With().Str("component", "rate_cache").Logger(),
		now:      time.Now,
	}
}

// Rates returns the cached table while it is fresh, otherwise refreshes it. A failed refresh
// keeps the previous table in place and returns ErrUnavailable. The returned table is a copy.
func (c *RateCache) Rates(ctx context.Context, force bool) (currency.Table, error) {
	if !force {
		if table, ok := c.fresh(); ok {
			return table, nil
		}
	}

	v, err, _ := c.group.Do("rates", func() (any, error) {
		table, err := c.src.Latest(ctx)
		if c.observer != nil {
			c.observer.ObserveFetch("rates", err)
		}
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.table = table.Clone()
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return table, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Bool("force", force).Msg("rate refresh failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.(currency.Table).Clone(), nil
}

// FetchedAt returns when the current table was stored; zero when nothing is cached.
func (c *RateCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *RateCache) fresh() (currency.Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.table == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.table.Clone(), true
}
