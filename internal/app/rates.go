package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/storage"
)

// Rates prints the current rate table, or the archived table of opts.Date.
func (a *App) Rates(ctx context.Context, opts RatesOptions) error {
	allowed, err := a.Config.AllowedSet()
	if err != nil {
		return err
	}

	var (
		table currency.Table
		asOf  time.Time
	)
	if opts.Date != nil {
		asOf = storage.Day(*opts.Date)
		table, err = a.newRateSource().OnDate(ctx, asOf)
	} else {
		asOf = time.Now().UTC()
		table, err = a.newRateSource().Latest(ctx)
	}
	if err != nil {
		return err
	}

	base := a.Config.BaseCode()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Currency\t%s per unit\n", base)
	for _, code := range allowed.Codes() {
		if code == base {
			continue
		}
		rate, ok := table.Rate(code)
		if !ok {
			fmt.Fprintf(writer, "%s\tn/a\n", code)
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\n", code, rate.StringFixed(4))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	a.Logger.Debug().Time("as_of", asOf).Int("rates", len(table)).Msg("rates printed")
	return nil
}
