package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rulekit/rulekit/pkg/engine"
)

// Metrics provides Prometheus metrics for rule evaluation. It implements
// engine.Observer so it can be wired directly into engine.Config.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Rule metrics
	rulesEvaluated *prometheus.CounterVec
	ruleDuration   prometheus.Histogram
	ruleErrors     *prometheus.CounterVec

	// Almanac cache metrics
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
// When disabled, all recording methods are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of engine runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of engine runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of engine runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of in-flight runs",
			},
		),

		rulesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_evaluated_total",
				Help:      "Total number of rule evaluations by outcome",
			},
			[]string{"outcome"},
		),
		ruleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_duration_seconds",
				Help:      "Duration of individual rule evaluations in seconds",
				Buckets:   buckets,
			},
		),
		ruleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_errors_total",
				Help:      "Total number of rule evaluation errors by class",
			},
			[]string{"class"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "almanac_cache_hits_total",
				Help:      "Total number of almanac cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "almanac_cache_misses_total",
				Help:      "Total number of almanac cache misses (fact computations)",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.rulesEvaluated,
		m.ruleDuration,
		m.ruleErrors,
		m.cacheHits,
		m.cacheMisses,
	)

	return m, nil
}

// RunStarted implements engine.Observer.
func (m *Metrics) RunStarted(runID string, rules int) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RuleEvaluated implements engine.Observer.
func (m *Metrics) RuleEvaluated(runID string, result *engine.RuleResult, err error, d time.Duration) {
	if m.rulesEvaluated == nil {
		return
	}
	switch {
	case err != nil:
		m.rulesEvaluated.WithLabelValues("error").Inc()
		if evalErr, ok := err.(*engine.EvalError); ok {
			m.ruleErrors.WithLabelValues(string(evalErr.Class)).Inc()
		} else {
			m.ruleErrors.WithLabelValues("unknown").Inc()
		}
	case result.Result:
		m.rulesEvaluated.WithLabelValues("success").Inc()
	default:
		m.rulesEvaluated.WithLabelValues("failure").Inc()
	}
	m.ruleDuration.Observe(d.Seconds())
}

// RunCompleted implements engine.Observer.
func (m *Metrics) RunCompleted(runID string, status engine.RunStatus, d time.Duration, cache engine.CacheStats) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	m.activeRuns.Dec()
	m.cacheHits.Add(float64(cache.Hits))
	m.cacheMisses.Add(float64(cache.Misses))
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured address. It
// returns immediately; the server runs until Shutdown.
func (m *Metrics) StartServer() error {
	if !m.config.Enabled {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The caller observes failures through scrape errors.
			_ = err
		}
	}()
	return nil
}

// Shutdown stops the metrics HTTP server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}
