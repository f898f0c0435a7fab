package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"currency-exchange-bot/internal/alerting"
	"currency-exchange-bot/internal/alerts"
	"currency-exchange-bot/internal/chart"
	"currency-exchange-bot/internal/config"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/fetcher"
	"currency-exchange-bot/internal/metrics"
	"currency-exchange-bot/internal/report"
	"currency-exchange-bot/internal/scheduler"
	"currency-exchange-bot/internal/session"
	"currency-exchange-bot/internal/storage"
	"currency-exchange-bot/internal/subscription"
	"currency-exchange-bot/internal/throttle"
)

// ErrBaseCurrency is returned when a history of the base currency is requested.
var ErrBaseCurrency = errors.New("base currency has no history")

// RateReader reads the cached rate table.
type RateReader interface {
	Rates(ctx context.Context, force bool) (currency.Table, error)
}

// OfficeReader reads the cached office listing of one currency.
type OfficeReader interface {
	Offices(ctx context.Context, code currency.Code, force bool) ([]fetcher.Office, time.Time, error)
}

// Deps are the collaborators shared with the chat handler.
type Deps struct {
	Rates         RateReader
	Offices       OfficeReader // nil when no office source is configured
	Archive       fetcher.RateSource
	Store         storage.SnapshotStore // nil when no database is configured
	Alerts        *alerts.Registry
	Subscribers   *subscription.Set
	Sessions      *session.Machine
	Guard         *throttle.Guard
	Gates         []*throttle.CommandGate
	Notifier      *alerting.Notifier
	Renderer      *report.Renderer
	Metrics       *metrics.Metrics
	Allowed       currency.Set
	Base          currency.Code
	ArchiveSource string
}

// Service owns the background loops: alert evaluation, daily broadcast and cache refresh.
type Service struct {
	deps   Deps
	cfg    config.SchedulerConfig
	logger zerolog.Logger

	sessionIdle  time.Duration
	throttleIdle time.Duration
	retention    time.Duration
	locker       storage.AdvisoryLocker
	lockKey      int64
	fetchLimit   int
	now          func() time.Time
}

// New constructs the background service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if deps.ArchiveSource == "" {
		deps.ArchiveSource = "central_bank"
	}

	return &Service{
		deps:         deps,
		cfg:          cfg.Scheduler,
		logger:       logger.With().Str("component", "service").Logger(),
		sessionIdle:  cfg.Session.IdleTimeout,
		throttleIdle: cfg.Throttle.IdleEviction,
		retention:    cfg.Database.Retention,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		fetchLimit:   4,
		now:          time.Now,
	}
}

// Run starts every enabled loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	jobs := []struct {
		name string
		job  config.JobConfig
		tick scheduler.TickFunc
	}{
		{"alerts", s.cfg.Alerts, s.AlertTick},
		{"broadcast", s.cfg.Broadcast, s.BroadcastTick},
		{"refresh", s.cfg.Refresh, s.RefreshTick},
	}

	started := 0
	for _, j := range jobs {
		if !j.job.Enabled {
			s.logger.Info().Str("job", j.name).Msg("job disabled")
			continue
		}
		sched := scheduler.New(scheduler.Options{
			Name:         j.name,
			Interval:     j.job.Interval,
			AlignToStart: j.job.Align,
			Offset:       j.job.Offset,
			StartupDelay: s.cfg.StartupDelay,
			Observer:     s.deps.Metrics,
		}, s.logger)
		tick := j.tick
		g.Go(func() error {
			return sched.Run(gctx, tick)
		})
		started++
	}

	if started == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.Wait()
}

// AlertTick evaluates every alert against one rate table and notifies the owners of fired alerts.
func (s *Service) AlertTick(ctx context.Context, bucket time.Time) error {
	if s.deps.Alerts.Len() == 0 {
		return nil
	}

	table, err := s.deps.Rates.Rates(ctx, false)
	if err != nil {
		return fmt.Errorf("alert tick: %w", err)
	}

	fired := s.deps.Alerts.Evaluate(table)
	s.deps.Metrics.ObserveAlertsFired(len(fired))
	if len(fired) == 0 {
		return nil
	}

	var errs []error
	for _, f := range fired {
		text := s.deps.Renderer.AlertFired(f, s.deps.Base)
		if err := s.deps.Notifier.Notify(ctx, "alert", f.UserID, text); err != nil {
			s.logger.Error().Err(err).Int64("user_id", f.UserID).Msg("failed to deliver alert")
			errs = append(errs, err)
			continue
		}
		s.logger.Info().
			Int64("user_id", f.UserID).
			Str("currency", string(f.Alert.Currency)).
			Str("target", f.Alert.Target.String()).
			Str("rate", f.Rate.String()).
			Msg("alert fired")
	}
	return errors.Join(errs...)
}

// BroadcastTick sends the daily rate summary to every subscriber.
func (s *Service) BroadcastTick(ctx context.Context, bucket time.Time) error {
	members := s.deps.Subscribers.Members()
	if len(members) == 0 {
		s.logger.Debug().Time("bucket", bucket).Msg("skip broadcast without subscribers")
		return nil
	}

	table, err := s.deps.Rates.Rates(ctx, false)
	if err != nil {
		return fmt.Errorf("broadcast skipped: %w", err)
	}

	text := s.deps.Renderer.DailySummary(table, s.deps.Allowed, s.deps.Base, bucket)
	res := s.deps.Notifier.Broadcast(ctx, "broadcast", members, text)
	s.logger.Info().
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Msg("broadcast finished")

	if res.Delivered == 0 && res.Err != nil {
		return fmt.Errorf("broadcast: %w", res.Err)
	}
	return nil
}

// RefreshTick forces the rate and office caches, archives the table and evicts idle state.
func (s *Service) RefreshTick(ctx context.Context, bucket time.Time) error {
	var errs []error

	table, err := s.deps.Rates.Rates(ctx, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("refresh rates: %w", err))
	} else if err := s.archive(ctx, table); err != nil {
		errs = append(errs, err)
	}

	if s.deps.Offices != nil {
		for _, code := range s.deps.Allowed.Codes() {
			if code == s.deps.Base {
				continue
			}
			if _, _, err := s.deps.Offices.Offices(ctx, code, true); err != nil {
				errs = append(errs, fmt.Errorf("refresh offices %s: %w", code, err))
			}
		}
	}

	s.evictIdle()
	return errors.Join(errs...)
}

func (s *Service) evictIdle() {
	var throttles, sessions int
	if s.throttleIdle > 0 {
		if s.deps.Guard != nil {
			throttles += s.deps.Guard.Prune(s.throttleIdle)
		}
		for _, g := range s.deps.Gates {
			throttles += g.Prune(s.throttleIdle)
		}
	}
	if s.sessionIdle > 0 && s.deps.Sessions != nil {
		sessions = s.deps.Sessions.Expire(s.sessionIdle)
	}
	if throttles > 0 || sessions > 0 {
		s.logger.Debug().Int("throttle_entries", throttles).Int("sessions", sessions).Msg("evicted idle entries")
	}
}

// archive 将当日汇率写入数据库；未配置数据库或锁被其他实例持有时跳过。
func (s *Service) archive(ctx context.Context, table currency.Table) error {
	if s.deps.Store == nil {
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip archive because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	day := storage.Day(s.now())
	if _, err := s.deps.Store.UpsertSnapshots(ctx, day, table, s.deps.ArchiveSource); err != nil {
		return fmt.Errorf("archive rates: %w", err)
	}
	if s.retention > 0 {
		removed, err := s.deps.Store.DeleteSnapshotsBefore(ctx, day.Add(-s.retention))
		if err != nil {
			return fmt.Errorf("prune archive: %w", err)
		}
		if removed > 0 {
			s.logger.Info().Int64("removed", removed).Msg("pruned archived rates")
		}
	}
	return nil
}

// History returns up to days daily points for code, oldest first. Stored snapshots are used
// where present; missing days are read from the archive source and written back.
func (s *Service) History(ctx context.Context, code currency.Code, days int) ([]chart.Point, error) {
	if code == s.deps.Base {
		return nil, ErrBaseCurrency
	}
	if days < 2 {
		days = 2
	}

	to := storage.Day(s.now())
	from := to.AddDate(0, 0, -(days - 1))

	known := make(map[time.Time]chart.Point, days)
	if s.deps.Store != nil {
		snaps, err := s.deps.Store.ListHistory(ctx, code, from, to)
		if err != nil {
			s.logger.Warn().Err(err).Str("currency", string(code)).Msg("archive read failed, falling back to source")
		}
		for _, snap := range snaps {
			day := storage.Day(snap.Day)
			known[day] = chart.Point{Date: day, Value: snap.Rate}
		}
	}

	var missing []time.Time
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if _, ok := known[day]; !ok {
			missing = append(missing, day)
		}
	}

	fetched, err := s.fetchDays(ctx, missing)
	if err != nil {
		return nil, err
	}
	for day, table := range fetched {
		if rate, ok := table.Rate(code); ok {
			known[day] = chart.Point{Date: day, Value: rate}
		}
	}

	points := make([]chart.Point, 0, len(known))
	for _, p := range known {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	if len(points) < 2 {
		return nil, chart.ErrNotEnoughPoints
	}
	return points, nil
}

// fetchDays reads archive tables for days concurrently. Days without a publication are left out.
func (s *Service) fetchDays(ctx context.Context, days []time.Time) (map[time.Time]currency.Table, error) {
	out := make(map[time.Time]currency.Table, len(days))
	if len(days) == 0 || s.deps.Archive == nil {
		return out, nil
	}

	tables := make([]currency.Table, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i, day := range days {
		g.Go(func() error {
			table, err := s.deps.Archive.OnDate(gctx, day)
			s.deps.Metrics.ObserveFetch("archive", err)
			if errors.Is(err, fetcher.ErrNoData) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("archive %s: %w", day.Format("2006-01-02"), err)
			}
			tables[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, day := range days {
		if tables[i] == nil {
			continue
		}
		out[day] = tables[i]
		if s.deps.Store != nil {
			if _, err := s.deps.Store.UpsertSnapshots(ctx, day, tables[i], s.deps.ArchiveSource); err != nil {
				s.logger.Warn().Err(err).Time("day", day).Msg("failed to store archived rates")
			}
		}
	}
	return out, nil
}

// Backfill loads archive tables for every day in [from, to] into the store and returns the
// number of days written. Days without a publication are skipped.
func (s *Service) Backfill(ctx context.Context, from, to time.Time, dryRun bool) (int, error) {
	if s.deps.Store == nil && !dryRun {
		return 0, storage.ErrNotConfigured
	}
	start, end := storage.Day(from), storage.Day(to)
	if end.Before(start) {
		return 0, errors.New("backfill range is empty")
	}

	if !dryRun {
		unlock, proceed, err := s.acquireLock(ctx)
		if err != nil {
			return 0, err
		}
		if !proceed {
			return 0, errors.New("another instance holds the archive lock")
		}
		if unlock != nil {
			defer unlock()
		}
	}

	written := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		table, err := s.deps.Archive.OnDate(ctx, day)
		s.deps.Metrics.ObserveFetch("archive", err)
		if errors.Is(err, fetcher.ErrNoData) {
			s.logger.Debug().Time("day", day).Msg("no publication")
			continue
		}
		if err != nil {
			return written, fmt.Errorf("backfill %s: %w", day.Format("2006-01-02"), err)
		}
		if dryRun {
			s.logger.Info().Time("day", day).Int("rates", len(table)).Msg("dry-run: would store rates")
			written++
			continue
		}
		if _, err := s.deps.Store.UpsertSnapshots(ctx, day, table, s.deps.ArchiveSource); err != nil {
			return written, fmt.Errorf("backfill %s: %w", day.Format("2006-01-02"), err)
		}
		written++
	}
	return written, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
