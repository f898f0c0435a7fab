// Package bot turns classified interactions into replies.
package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/alerting"
	"currency-exchange-bot/internal/alerts"
	"currency-exchange-bot/internal/chart"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/dispatch"
	"currency-exchange-bot/internal/fetcher"
	"currency-exchange-bot/internal/logging"
	"currency-exchange-bot/internal/metrics"
	"currency-exchange-bot/internal/report"
	"currency-exchange-bot/internal/session"
	"currency-exchange-bot/internal/subscription"
	"currency-exchange-bot/internal/throttle"
	"currency-exchange-bot/internal/workerpool"
)

// Sender delivers replies and acknowledges inline button presses.
type Sender interface {
	alerting.Sender
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// RateReader reads the cached rate table.
type RateReader interface {
	Rates(ctx context.Context, force bool) (currency.Table, error)
}

// OfficeReader reads the cached office listing of one currency.
type OfficeReader interface {
	Offices(ctx context.Context, code currency.Code, force bool) ([]fetcher.Office, time.Time, error)
}

// HistoryReader returns daily rate points for a chart.
type HistoryReader interface {
	History(ctx context.Context, code currency.Code, days int) ([]chart.Point, error)
}

// Options tune the handler.
type Options struct {
	Allowed        currency.Set
	Base           currency.Code
	Quote          currency.Code
	ChartDays      int
	ChartWidth     int
	ChartHeight    int
	ChartMaxPoints int
	Interactions   int
	Heavy          int
}

// Deps are the handler's collaborators. Offices may be nil.
type Deps struct {
	Sender      Sender
	Sessions    *session.Machine
	Alerts      *alerts.Registry
	Subscribers *subscription.Set
	Rates       RateReader
	Offices     OfficeReader
	History     HistoryReader
	Guard       *throttle.Guard
	ChartGate   *throttle.CommandGate
	OfficeGate  *throttle.CommandGate
	Renderer    *report.Renderer
	Metrics     *metrics.Metrics
}

// Handler answers chat interactions.
type Handler struct {
	opts       Options
	deps       Deps
	buttons    dispatch.Buttons
	classifier *dispatch.Classifier
	pool       *workerpool.Pool
	heavy      *workerpool.Pool
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandler wires a handler with its interaction and heavy-work pools.
func NewHandler(opts Options, deps Deps, logger zerolog.Logger) *Handler {
	if opts.ChartDays < 2 {
		opts.ChartDays = 7
	}
	logger = logger.With().Str("component", "handler").Logger()
	buttons := translatedButtons(deps.Renderer)
	return &Handler{
		opts:       opts,
		deps:       deps,
		buttons:    buttons,
		classifier: dispatch.NewClassifier(opts.Allowed, buttons),
		pool:       workerpool.New("interactions", opts.Interactions, logger),
		heavy:      workerpool.New("heavy", opts.Heavy, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Submit runs Handle on the interaction pool. It blocks while the pool is full.
func (h *Handler) Submit(ctx context.Context, in dispatch.Interaction) {
	if err := h.pool.Go(ctx, "interaction", func(ctx context.Context) { h.Handle(ctx, in) }); err != nil {
		h.logger.Debug().Err(err).Int64("user_id", in.UserID).Msg("interaction dropped")
	}
}

// Wait blocks until all submitted and heavy tasks finished.
func (h *Handler) Wait() {
	h.pool.Wait()
	h.heavy.Wait()
}

// Handle processes one interaction synchronously; chart and office requests continue on the
// heavy pool and reply from there.
func (h *Handler) Handle(ctx context.Context, in dispatch.Interaction) {
	started := h.now()
	logger := logging.ForInteraction(h.logger, uuid.NewString(), in.UserID)

	if in.IsCallback() {
		defer h.answer(ctx, logger, in)
	}

	if !h.deps.Guard.Allow(in.UserID) {
		h.deps.Metrics.ObserveThrottled("global", "interval")
		logger.Debug().Msg("throttled")
		return
	}

	cl := h.classifier.Classify(in, h.deps.Sessions.State(in.UserID))
	logger = logger.With().Str("intent", cl.Intent.String()).Logger()

	if err := h.route(ctx, logger, in, cl); err != nil {
		logger.Error().Err(err).Msg("failed to reply")
	}

	h.deps.Metrics.ObserveInteraction(cl.Intent.String(), h.now().Sub(started))
	logger.Debug().Dur("took", h.now().Sub(started)).Msg("interaction handled")
}

func (h *Handler) answer(ctx context.Context, logger zerolog.Logger, in dispatch.Interaction) {
	if err := h.deps.Sender.AnswerCallback(ctx, in.CallbackID, ""); err != nil {
		logger.Warn().Err(err).Msg("failed to answer callback")
	}
}

func (h *Handler) route(ctx context.Context, logger zerolog.Logger, in dispatch.Interaction, cl dispatch.Classification) error {
	switch cl.Intent {
	case dispatch.Start:
		h.deps.Sessions.Cancel(in.UserID)
		return h.reply(ctx, in, h.deps.Renderer.Welcome(h.opts.Allowed), mainMenu(h.opts.Allowed, h.buttons))
	case dispatch.Help:
		return h.reply(ctx, in, h.deps.Renderer.Help(), nil)
	case dispatch.Cancel:
		return h.cancel(ctx, in)
	case dispatch.Rates:
		return h.rates(ctx, in)
	case dispatch.Chart:
		return h.chart(ctx, logger, in, cl)
	case dispatch.Offices:
		return h.offices(ctx, logger, in, cl)
	case dispatch.SetAlert:
		return h.setAlert(ctx, in, cl.Args)
	case dispatch.ListAlerts:
		return h.reply(ctx, in, h.deps.Renderer.AlertList(h.deps.Alerts.List(in.UserID)), nil)
	case dispatch.DeleteAlert:
		return h.deleteAlert(ctx, in, cl.Args)
	case dispatch.Subscribe:
		text := h.deps.Renderer.Text("You are already subscribed to daily rates.")
		if h.deps.Subscribers.Add(in.UserID) {
			text = h.deps.Renderer.Text("Subscribed. You will get the rates every day.")
		}
		return h.reply(ctx, in, text, nil)
	case dispatch.Unsubscribe:
		text := h.deps.Renderer.Text("You are not subscribed.")
		if h.deps.Subscribers.Remove(in.UserID) {
			text = h.deps.Renderer.Text("Unsubscribed from daily rates.")
		}
		return h.reply(ctx, in, text, nil)
	case dispatch.PickSource:
		return h.pickSource(ctx, in, cl.Currency)
	case dispatch.EnterAmount:
		return h.enterAmount(ctx, in, cl.Args)
	case dispatch.PickTarget:
		return h.pickTarget(ctx, logger, in, cl.Currency)
	case dispatch.QuickQuote:
		return h.quickQuote(ctx, in, cl.Args)
	case dispatch.UnsupportedCurrency:
		return h.unsupported(ctx, in, cl.Args)
	default:
		return h.reply(ctx, in, h.deps.Renderer.Text("Sorry, I did not understand that.")+"\n\n"+h.deps.Renderer.Help(), nil)
	}
}

func (h *Handler) reply(ctx context.Context, in dispatch.Interaction, text string, kb *alerting.Keyboard) error {
	return h.deps.Sender.Send(ctx, alerting.Message{ChatID: in.ChatID, Text: text, Markdown: true, Keyboard: kb})
}

func (h *Handler) unavailable(ctx context.Context, in dispatch.Interaction) error {
	return h.reply(ctx, in, h.deps.Renderer.Text("Rates are unavailable right now, please try again later."), nil)
}

func (h *Handler) unsupported(ctx context.Context, in dispatch.Interaction, code string) error {
	return h.reply(ctx, in, h.deps.Renderer.Text("%s is not supported. Choose one of: %s.", strings.ToUpper(code), h.opts.Allowed), nil)
}

func (h *Handler) cancel(ctx context.Context, in dispatch.Interaction) error {
	text := h.deps.Renderer.Text("Nothing to cancel.")
	if h.deps.Sessions.Cancel(in.UserID) {
		text = h.deps.Renderer.Text("Conversion cancelled.")
	}
	return h.reply(ctx, in, text, nil)
}

func (h *Handler) rates(ctx context.Context, in dispatch.Interaction) error {
	table, err := h.deps.Rates.Rates(ctx, false)
	if err != nil {
		return h.unavailable(ctx, in)
	}
	var asOf time.Time
	if f, ok := h.deps.Rates.(interface{ FetchedAt() time.Time }); ok {
		asOf = f.FetchedAt()
	}
	text := h.deps.Renderer.Rates(table, h.opts.Allowed, h.opts.Base, asOf)
	return h.reply(ctx, in, text, currencyPicker(h.opts.Allowed.Codes(), dispatch.CallbackChart, h.opts.Base, ""))
}

func (h *Handler) pickSource(ctx context.Context, in dispatch.Interaction, code currency.Code) error {
	if err := h.deps.Sessions.PickSource(in.UserID, code); err != nil {
		return h.unsupported(ctx, in, string(code))
	}
	return h.reply(ctx, in, h.deps.Renderer.AmountPrompt(code), cancelOnly(h.buttons.Cancel))
}

func (h *Handler) enterAmount(ctx context.Context, in dispatch.Interaction, text string) error {
	amount, err := h.deps.Sessions.EnterAmount(in.UserID, text)
	switch {
	case errors.Is(err, session.ErrInvalidAmount):
		return h.reply(ctx, in, h.deps.Renderer.Text("That is not a valid amount. Use at most two decimals, for example 100 or 12,50."), cancelOnly(h.buttons.Cancel))
	case errors.Is(err, session.ErrAmountOutOfRange):
		return h.reply(ctx, in, h.deps.Renderer.Text("The amount must be between 0.01 and 1,000,000,000. Pick a currency to start again."), nil)
	case err != nil:
		return h.reply(ctx, in, h.deps.Renderer.Text("Pick a currency first."), nil)
	}

	s, _ := h.deps.Sessions.Get(in.UserID)
	kb := currencyPicker(h.opts.Allowed.Codes(), dispatch.CallbackTarget, s.Source, h.buttons.Cancel)
	return h.reply(ctx, in, h.deps.Renderer.TargetPrompt(amount, s.Source), kb)
}

func (h *Handler) pickTarget(ctx context.Context, logger zerolog.Logger, in dispatch.Interaction, target currency.Code) error {
	s, _ := h.deps.Sessions.Get(in.UserID)
	conv, err := h.deps.Sessions.PickTarget(ctx, in.UserID, target)
	switch {
	case errors.Is(err, session.ErrSameCurrency):
		kb := currencyPicker(h.opts.Allowed.Codes(), dispatch.CallbackTarget, s.Source, h.buttons.Cancel)
		return h.reply(ctx, in, h.deps.Renderer.Text("Pick a currency different from %s.", s.Source), kb)
	case errors.Is(err, session.ErrRatesUnavailable):
		logger.Warn().Err(err).Msg("conversion failed")
		return h.unavailable(ctx, in)
	case errors.Is(err, session.ErrNotAwaitingTarget):
		return h.reply(ctx, in, h.deps.Renderer.Text("Enter the amount first."), cancelOnly(h.buttons.Cancel))
	case err != nil:
		return h.reply(ctx, in, h.deps.Renderer.Text("Pick a currency first."), nil)
	}
	logger.Info().
		Str("source", string(conv.Source)).
		Str("target", string(conv.Target)).
		Str("amount", conv.Amount.String()).
		Msg("conversion done")
	return h.reply(ctx, in, h.deps.Renderer.Conversion(conv), nil)
}

func (h *Handler) quickQuote(ctx context.Context, in dispatch.Interaction, text string) error {
	amount, err := session.ParseAmount(text)
	if err != nil {
		return h.reply(ctx, in, h.deps.Renderer.Text("That is not a valid amount. Use at most two decimals, for example 100 or 12,50."), nil)
	}
	table, err := h.deps.Rates.Rates(ctx, false)
	if err != nil {
		return h.unavailable(ctx, in)
	}
	return h.reply(ctx, in, h.deps.Renderer.QuickQuote(amount, h.opts.Quote, table, h.opts.Allowed), nil)
}

func (h *Handler) setAlert(ctx context.Context, in dispatch.Interaction, args string) error {
	req, err := alerts.ParseCommand(args, h.opts.Allowed)
	switch {
	case errors.Is(err, alerts.ErrUnsupportedCurrency):
		code, _, _ := strings.Cut(strings.TrimSpace(args), " ")
		return h.unsupported(ctx, in, code)
	case err != nil:
		return h.reply(ctx, in, h.deps.Renderer.Text("Usage: /alert CUR [> or <] PRICE, for example /alert USD > 95."), nil)
	}
	if req.Currency == h.opts.Base {
		return h.reply(ctx, in, h.deps.Renderer.Text("Pick a currency other than %s.", h.opts.Base), nil)
	}

	var (
		current decimal.Decimal
		known   bool
	)
	if table, err := h.deps.Rates.Rates(ctx, false); err == nil {
		current, known = table.Rate(req.Currency)
	}

	dir, err := alerts.ResolveDirection(req.Direction, req.Target, current, known)
	switch {
	case errors.Is(err, alerts.ErrRateUnavailable):
		return h.reply(ctx, in, h.deps.Renderer.Text("The current %s rate is unknown. Add > or < to the command.", req.Currency), nil)
	case errors.Is(err, alerts.ErrTargetReached):
		return h.reply(ctx, in, h.deps.Renderer.Text("%s is already at %s.", req.Currency, req.Target.String()), nil)
	case err != nil:
		return err
	}

	a := alerts.Alert{Currency: req.Currency, Target: req.Target, Direction: dir, CreatedAt: h.now()}
	index := h.deps.Alerts.Add(in.UserID, a)
	return h.reply(ctx, in, h.deps.Renderer.AlertCreated(index, a), nil)
}

func (h *Handler) deleteAlert(ctx context.Context, in dispatch.Interaction, args string) error {
	index, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return h.reply(ctx, in, h.deps.Renderer.Text("Usage: /delete_alert N, where N is the number from /myalerts."), nil)
	}
	if _, err := h.deps.Alerts.Delete(in.UserID, index); errors.Is(err, alerts.ErrNotFound) {
		return h.reply(ctx, in, h.deps.Renderer.Text("There is no alert #%d.", index), nil)
	} else if err != nil {
		return err
	}
	return h.reply(ctx, in, h.deps.Renderer.Text("Alert #%d deleted.", index), nil)
}

// heavyTarget resolves the currency of /chart and /offices. It replies itself and returns
// false when no job should start.
func (h *Handler) heavyTarget(ctx context.Context, in dispatch.Interaction, cl dispatch.Classification, prefix, prompt string) (currency.Code, bool, error) {
	switch {
	case cl.Currency == "" && cl.Args != "":
		return "", false, h.unsupported(ctx, in, cl.Args)
	case cl.Currency == "":
		kb := currencyPicker(h.opts.Allowed.Codes(), prefix, h.opts.Base, "")
		return "", false, h.reply(ctx, in, h.deps.Renderer.Text(prompt), kb)
	case cl.Currency == h.opts.Base:
		return "", false, h.reply(ctx, in, h.deps.Renderer.Text("Pick a currency other than %s.", h.opts.Base), nil)
	}
	return cl.Currency, true, nil
}

// acquire takes the per-command gate and replies when it is closed.
func (h *Handler) acquire(ctx context.Context, in dispatch.Interaction, gate *throttle.CommandGate, name string) (func(), bool, error) {
	release, err := gate.Acquire(in.UserID)
	switch {
	case errors.Is(err, throttle.ErrInFlight):
		h.deps.Metrics.ObserveThrottled(name, "in_flight")
		return nil, false, h.reply(ctx, in, h.deps.Renderer.Text("Your previous request is still running."), nil)
	case errors.Is(err, throttle.ErrThrottled):
		h.deps.Metrics.ObserveThrottled(name, "interval")
		return nil, false, h.reply(ctx, in, h.deps.Renderer.Text("Please wait a little before asking again."), nil)
	case err != nil:
		return nil, false, err
	}
	return release, true, nil
}

func (h *Handler) chart(ctx context.Context, logger zerolog.Logger, in dispatch.Interaction, cl dispatch.Classification) error {
	code, ok, err := h.heavyTarget(ctx, in, cl, dispatch.CallbackChart, "Pick a currency for the chart.")
	if !ok {
		return err
	}
	release, ok, err := h.acquire(ctx, in, h.deps.ChartGate, "chart")
	if !ok {
		return err
	}

	err = h.heavy.Go(ctx, "chart", func(ctx context.Context) {
		defer release()
		if err := h.sendChart(ctx, in, code); err != nil {
			logger.Error().Err(err).Str("currency", string(code)).Msg("chart failed")
		}
	})
	if err != nil {
		release()
		return err
	}
	return nil
}

func (h *Handler) sendChart(ctx context.Context, in dispatch.Interaction, code currency.Code) error {
	points, err := h.deps.History.History(ctx, code, h.opts.ChartDays)
	if errors.Is(err, chart.ErrNotEnoughPoints) {
		return h.reply(ctx, in, h.deps.Renderer.Text("Not enough history for %s yet.", code), nil)
	}
	if err != nil {
		if replyErr := h.unavailable(ctx, in); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}

	png, err := chart.RenderPNG(chart.Downsample(points, h.opts.ChartMaxPoints), chart.Options{
		Title:  string(code) + "/" + string(h.opts.Base),
		YLabel: string(h.opts.Base),
		Width:  h.opts.ChartWidth,
		Height: h.opts.ChartHeight,
	})
	if err != nil {
		return err
	}

	return h.deps.Sender.Send(ctx, alerting.Message{
		ChatID:    in.ChatID,
		Text:      h.deps.Renderer.ChartCaption(code, h.opts.Base, h.opts.ChartDays),
		Markdown:  true,
		Image:     png,
		ImageName: strings.ToLower(string(code)) + ".png",
	})
}

func (h *Handler) offices(ctx context.Context, logger zerolog.Logger, in dispatch.Interaction, cl dispatch.Classification) error {
	if h.deps.Offices == nil {
		return h.reply(ctx, in, h.deps.Renderer.Text("Exchange office listings are not available."), nil)
	}
	code, ok, err := h.heavyTarget(ctx, in, cl, dispatch.CallbackOffices, "Pick a currency for the office listing.")
	if !ok {
		return err
	}
	release, ok, err := h.acquire(ctx, in, h.deps.OfficeGate, "offices")
	if !ok {
		return err
	}

	err = h.heavy.Go(ctx, "offices", func(ctx context.Context) {
		defer release()
		records, fetchedAt, err := h.deps.Offices.Offices(ctx, code, false)
		if err != nil {
			logger.Warn().Err(err).Str("currency", string(code)).Msg("office listing failed")
			err = h.reply(ctx, in, h.deps.Renderer.Text("Exchange offices are unavailable right now, please try again later."), nil)
		} else {
			err = h.reply(ctx, in, h.deps.Renderer.Offices(code, records, fetchedAt), nil)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to reply")
		}
	})
	if err != nil {
		release()
		return err
	}
	return nil
}
