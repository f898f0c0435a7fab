package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/cache"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/session"
)

// cliUser is the session key used by the convert command.
const cliUser int64 = 0

// Convert runs one conversion through the same session flow the chat uses.
func (a *App) Convert(ctx context.Context, opts ConvertOptions) (session.Conversion, error) {
	allowed, err := a.Config.AllowedSet()
	if err != nil {
		return session.Conversion{}, err
	}

	var rates session.RateProvider
	if len(opts.Overrides) > 0 {
		table := opts.Overrides.Clone()
		table[a.Config.BaseCode()] = decimal.NewFromInt(1)
		rates = &staticRates{table: table}
	} else {
		rates = cache.NewRateCache(a.newRateSource(), cache.RateOptions{TTL: a.Config.Rates.TTL}, a.Logger)
	}

	m := session.NewMachine(allowed, rates, a.Logger)
	if err := m.PickSource(cliUser, opts.From); err != nil {
		return session.Conversion{}, err
	}
	if _, err := m.EnterAmount(cliUser, opts.Amount); err != nil {
		return session.Conversion{}, err
	}
	conv, err := m.PickTarget(ctx, cliUser, opts.To)
	if err != nil {
		return session.Conversion{}, err
	}

	fmt.Fprintf(a.Out, "%s %s = %s %s\n", currency.FormatAmount(conv.Amount), conv.Source, conv.Display, conv.Target)
	return conv, nil
}

type staticRates struct {
	table currency.Table
}

func (s *staticRates) Rates(ctx context.Context, force bool) (currency.Table, error) {
	return s.table.Clone(), nil
}

var _ session.RateProvider = (*staticRates)(nil)
