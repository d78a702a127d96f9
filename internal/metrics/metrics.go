package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry holds all Prometheus metrics.
// A nil *Registry is valid and records nothing, so components can take it optionally.
type Registry struct {
	*prometheus.Registry

	// Provider metrics
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec

	// Backtest metrics
	tradesTotal      *prometheus.CounterVec
	eventsSkipped    *prometheus.CounterVec
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram

	// Scan metrics
	scansTotal    *prometheus.CounterVec
	alertsRouted  *prometheus.CounterVec
	tickersActive prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalyst_provider_requests_total",
				Help: "Market data provider requests by operation and outcome",
			},
			[]string{"op", "status"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalyst_provider_request_duration_seconds",
				Help:    "Market data provider request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalyst_cache_lookups_total",
				Help: "Adapter cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	reg.MustRegister(r.providerRequests)
	reg.MustRegister(r.providerLatency)
	reg.MustRegister(r.cacheLookups)

	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_trades_total",
			Help: "Backtest trades recorded by strategy label",
		},
		[]string{"strategy"},
	)
	r.eventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_events_skipped_total",
			Help: "Catalyst events skipped by ticker",
		},
		[]string{"ticker"},
	)
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_backtests_total",
			Help: "Total number of backtest runs",
		},
		[]string{"status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalyst_backtest_duration_seconds",
			Help:    "Backtest duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
	)
	r.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_scans_total",
			Help: "Total number of snapshot scans",
		},
		[]string{"status"},
	)
	r.alertsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_alerts_routed_total",
			Help: "Alerts delivered to notifiers",
		},
		[]string{"notifier", "status"},
	)
	r.tickersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalyst_universe_tickers",
			Help: "Number of tickers in the configured universe",
		},
	)

	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.eventsSkipped)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.scansTotal)
	reg.MustRegister(r.alertsRouted)
	reg.MustRegister(r.tickersActive)

	return r
}

// RecordProviderRequest records one upstream call. status is an HTTP status
// code, or 0 when the request failed before a response.
func (r *Registry) RecordProviderRequest(op string, status int, duration float64) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(op, statusToString(status)).Inc()
	r.providerLatency.WithLabelValues(op).Observe(duration)
}

// RecordCacheLookup records a cache hit or miss
func (r *Registry) RecordCacheLookup(kind string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordTrade records a trade for a strategy label.
func (r *Registry) RecordTrade(strategy string) {
	if r == nil {
		return
	}
	r.tradesTotal.WithLabelValues(strategy).Inc()
}

// RecordSkip records a skipped event.
func (r *Registry) RecordSkip(ticker string) {
	if r == nil {
		return
	}
	r.eventsSkipped.WithLabelValues(ticker).Inc()
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	if r == nil {
		return
	}
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// RecordScan records a scan completion.
func (r *Registry) RecordScan(status string) {
	if r == nil {
		return
	}
	r.scansTotal.WithLabelValues(status).Inc()
}

// RecordAlertRouted records an alert delivery attempt.
func (r *Registry) RecordAlertRouted(notifier, status string) {
	if r == nil {
		return
	}
	r.alertsRouted.WithLabelValues(notifier, status).Inc()
}

// SetUniverseSize sets the number of configured tickers.
func (r *Registry) SetUniverseSize(size int) {
	if r == nil {
		return
	}
	r.tickersActive.Set(float64(size))
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// Serve runs a metrics endpoint until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(path, r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusToString(status int) string {
	switch {
	case status == 0:
		return "error"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
