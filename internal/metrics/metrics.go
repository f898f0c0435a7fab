package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "exchangebot"

// Metrics holds the bot's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	interactions  *prometheus.CounterVec
	throttled     *prometheus.CounterVec
	handleLatency *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	alertsFired   prometheus.Counter
	ticks         *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		interactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Inbound interactions by classified intent",
		}, []string{"intent"}),
		throttled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Interactions rejected by a throttle gate",
		}, []string{"gate", "reason"}),
		handleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Latency of interaction handling",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"intent"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Upstream fetches by source and outcome",
		}, []string{"source", "status"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Unsolicited messages by kind and outcome",
		}, []string{"kind", "status"}),
		alertsFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts that reached their target",
		}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by job and outcome",
		}, []string{"job", "status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveInteraction counts one handled interaction.
func (m *Metrics) ObserveInteraction(intent string, took time.Duration) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(intent).Inc()
	m.handleLatency.WithLabelValues(intent).Observe(took.Seconds())
}

// ObserveThrottled counts a rejected interaction.
func (m *Metrics) ObserveThrottled(gate, reason string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(gate, reason).Inc()
}

// ObserveFetch counts an upstream fetch.
func (m *Metrics) ObserveFetch(source string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(source, status(err)).Inc()
}

// ObserveDelivery counts an unsolicited message.
func (m *Metrics) ObserveDelivery(kind string, err error) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, status(err)).Inc()
}

// ObserveAlertsFired adds n fired alerts.
func (m *Metrics) ObserveAlertsFired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsFired.Add(float64(n))
}

// ObserveTick counts a scheduler tick.
func (m *Metrics) ObserveTick(job string, err error) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(job, status(err)).Inc()
}

// Router serves /metrics and /health.
func (m *Metrics) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the HTTP endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "metrics").Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
