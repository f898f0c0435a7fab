package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"currency-exchange-bot/internal/alerting"
	"currency-exchange-bot/internal/alerts"
	"currency-exchange-bot/internal/bot"
	"currency-exchange-bot/internal/cache"
	"currency-exchange-bot/internal/config"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/fetcher"
	"currency-exchange-bot/internal/i18n"
	"currency-exchange-bot/internal/metrics"
	"currency-exchange-bot/internal/report"
	"currency-exchange-bot/internal/service"
	"currency-exchange-bot/internal/session"
	"currency-exchange-bot/internal/storage"
	"currency-exchange-bot/internal/subscription"
	"currency-exchange-bot/internal/telegram"
	"currency-exchange-bot/internal/throttle"
	"currency-exchange-bot/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// core holds the in-memory state and caches shared by the bot and the background loops.
type core struct {
	allowed    currency.Set
	metrics    *metrics.Metrics
	source     *fetcher.CentralBank
	rates      *cache.RateCache
	offices    *cache.OfficeCache
	renderer   *report.Renderer
	sessions   *session.Machine
	alerts     *alerts.Registry
	subs       *subscription.Set
	guard      *throttle.Guard
	chartGate  *throttle.CommandGate
	officeGate *throttle.CommandGate
}

func (a *App) userAgent(configured string) string {
	if configured != "" {
		return configured
	}
	return version.UserAgent(a.Config.App.Name)
}

func (a *App) newRateSource() *fetcher.CentralBank {
	return fetcher.NewCentralBank(fetcher.CentralBankOptions{
		BaseURL:   a.Config.Rates.BaseURL,
		Base:      a.Config.BaseCode(),
		Timeout:   a.Config.Rates.RequestTimeout,
		UserAgent: a.userAgent(a.Config.Rates.UserAgent),
	}, a.Logger)
}

func (a *App) newCore(m *metrics.Metrics) (*core, error) {
	allowed, err := a.Config.AllowedSet()
	if err != nil {
		return nil, err
	}

	source := a.newRateSource()
	rates := cache.NewRateCache(source, cache.RateOptions{TTL: a.Config.Rates.TTL, Observer: m}, a.Logger)

	var offices *cache.OfficeCache
	if a.Config.Offices.BaseURL != "" {
		src := fetcher.NewOffices(fetcher.OfficesOptions{
			BaseURL:   a.Config.Offices.BaseURL,
			Timeout:   a.Config.Offices.RequestTimeout,
			UserAgent: a.userAgent(a.Config.Offices.UserAgent),
			Limit:     a.Config.Offices.Limit,
		}, a.Logger)
		offices = cache.NewOfficeCache(src, cache.OfficeOptions{
			Region:   a.Config.Offices.Region,
			TTL:      a.Config.Offices.TTL,
			Observer: m,
		}, a.Logger)
	} else {
		a.Logger.Warn().Msg("offices.base_url not configured; office listings disabled")
	}

	return &core{
		allowed:    allowed,
		metrics:    m,
		source:     source,
		rates:      rates,
		offices:    offices,
		renderer:   report.New(i18n.New(a.Config.I18n.Dir, a.Config.I18n.Lang)),
		sessions:   session.NewMachine(allowed, rates, a.Logger),
		alerts:     alerts.NewRegistry(),
		subs:       subscription.NewSet(),
		guard:      throttle.NewGuard(a.Config.Throttle.Interval),
		chartGate:  throttle.NewCommandGate(a.Config.Throttle.HeavyInterval),
		officeGate: throttle.NewCommandGate(a.Config.Throttle.HeavyInterval),
	}, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService wires the background service; notifier may be nil for one-shot commands.
func (a *App) newService(c *core, store *storage.Store, notifier *alerting.Notifier) *service.Service {
	var snapshots storage.SnapshotStore
	if store != nil {
		snapshots = store
	}
	var offices service.OfficeReader
	if c.offices != nil {
		offices = c.offices
	}

	return service.New(a.Config, service.Deps{
		Rates:       c.rates,
		Offices:     offices,
		Archive:     c.source,
		Store:       snapshots,
		Alerts:      c.alerts,
		Subscribers: c.subs,
		Sessions:    c.sessions,
		Guard:       c.guard,
		Gates:       []*throttle.CommandGate{c.chartGate, c.officeGate},
		Notifier:    notifier,
		Renderer:    c.renderer,
		Metrics:     c.metrics,
		Allowed:     c.allowed,
		Base:        a.Config.BaseCode(),
	}, a.Logger)
}

// Run executes the long-running bot: long polling, the background loops and the metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateBot(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; rate archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	m := metrics.New()
	c, err := a.newCore(m)
	if err != nil {
		return err
	}

	tg, err := telegram.NewBot(telegram.Config{
		Token:          a.Config.Telegram.Token,
		APIEndpoint:    a.Config.Telegram.APIEndpoint,
		Debug:          a.Config.Telegram.Debug,
		UpdatesTimeout: a.Config.Telegram.UpdatesTimeout,
		RequestTimeout: a.Config.Telegram.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return err
	}

	notifier := alerting.NewNotifier(tg, m, a.Logger)
	svc := a.newService(c, store, notifier)

	var offices bot.OfficeReader
	if c.offices != nil {
		offices = c.offices
	}
	handler := bot.NewHandler(bot.Options{
		Allowed:        c.allowed,
		Base:           a.Config.BaseCode(),
		Quote:          a.Config.QuoteCode(),
		ChartDays:      a.Config.Chart.Days,
		ChartWidth:     a.Config.Chart.Width,
		ChartHeight:    a.Config.Chart.Height,
		ChartMaxPoints: a.Config.Chart.MaxPoints,
		Interactions:   a.Config.Workers.Interactions,
		Heavy:          a.Config.Workers.Heavy,
	}, bot.Deps{
		Sender:      tg,
		Sessions:    c.sessions,
		Alerts:      c.alerts,
		Subscribers: c.subs,
		Rates:       c.rates,
		Offices:     offices,
		History:     svc,
		Guard:       c.guard,
		ChartGate:   c.chartGate,
		OfficeGate:  c.officeGate,
		Renderer:    c.renderer,
		Metrics:     m,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return tg.Run(gctx, handler.Submit) })
	if a.Config.Metrics.Enabled {
		g.Go(func() error { return m.Serve(gctx, a.Config.Metrics.Addr, a.Logger) })
	}

	a.Logger.Info().Str("username", tg.Username()).Str("version", version.String()).Msg("bot started")
	err = g.Wait()

	waitCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		a.Logger.Warn().Msg("in-flight interactions did not finish in time")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("bot terminated with error")
		return err
	}

	a.Logger.Info().Msg("bot stopped")
	return nil
}

// ExportOptions hold parameters for exporting a rate history.
type ExportOptions struct {
	Currency  currency.Code
	Days      int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// RatesOptions configure the rates command.
type RatesOptions struct {
	Date  *time.Time
	Force bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// ConvertOptions configure the convert command. Overrides replace rates from the source.
type ConvertOptions struct {
	Amount    string
	From      currency.Code
	To        currency.Code
	Overrides currency.Table
}
