package app

import (
	"context"
	"errors"

	"currency-exchange-bot/internal/metrics"
	"currency-exchange-bot/internal/service"
	"currency-exchange-bot/internal/storage"
)

// archiveService builds a service limited to archive reads and writes, for one-shot commands.
func (a *App) archiveService(store *storage.Store) *service.Service {
	var snapshots storage.SnapshotStore
	if store != nil {
		snapshots = store
	}
	return service.New(a.Config, service.Deps{
		Archive: a.newRateSource(),
		Store:   snapshots,
		Metrics: metrics.New(),
		Base:    a.Config.BaseCode(),
	}, a.Logger)
}

// Backfill loads published rate tables for a range of days into the archive.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from, to := storage.Day(opts.From), storage.Day(opts.To)
	if to.Before(from) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	svc := a.archiveService(store)
	written, err := svc.Backfill(ctx, from, to, opts.DryRun)
	a.Logger.Info().
		Time("from", from).
		Time("to", to).
		Int("days", written).
		Bool("dry_run", opts.DryRun).
		Msg("回填完成")
	return err
}
