package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"currency-exchange-bot/internal/chart"
	"currency-exchange-bot/internal/i18n"
	"currency-exchange-bot/internal/report"
)

// Export renders the daily rate history of one currency as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	allowed, err := a.Config.AllowedSet()
	if err != nil {
		return err
	}
	if !allowed.Contains(opts.Currency) {
		return fmt.Errorf("currency %s is not in currencies.allowed (%s)", opts.Currency, allowed)
	}

	days := a.Config.ResolveDays(opts.Days)
	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = a.Config.Chart.MaxPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Info().Msg("database not configured; reading history from the rate source only")
	}
	if closeStore != nil {
		defer closeStore()
	}

	points, err := a.archiveService(store).History(ctx, opts.Currency, days)
	if err != nil {
		return err
	}

	exported := chart.Downsample(points, maxPoints)
	a.Logger.Info().
		Str("currency", string(opts.Currency)).
		Int("total", len(points)).
		Int("exported", len(exported)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, exported); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		r := report.New(i18n.New(a.Config.I18n.Dir, a.Config.I18n.Lang))
		if err := writeHistoryPNG(opts.PNGPath, exported, chart.Options{
			Title:  r.ChartCaption(opts.Currency, a.Config.BaseCode(), days),
			YLabel: string(a.Config.BaseCode()),
			Width:  a.Config.Chart.Width,
			Height: a.Config.Chart.Height,
		}); err != nil {
			return err
		}
	}

	return nil
}

func writeHistoryCSV(path string, points []chart.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"day", "rate"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{p.Date.Format(time.DateOnly), p.Value.String()}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, points []chart.Point, opts chart.Options) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return chart.Render(file, points, opts)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
