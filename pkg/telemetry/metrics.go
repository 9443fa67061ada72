package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for runs, files and module evaluations.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// File metrics
	filesProcessed *prometheus.CounterVec
	fileDuration   *prometheus.HistogramVec
	queuedFiles    prometheus.Gauge

	// Module metrics
	moduleEvaluations *prometheus.CounterVec
	moduleDuration    *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors. A disabled configuration returns a
// Metrics whose recorders do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of processing runs started",
			},
			[]string{"environment"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of processing runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of processing runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs in progress",
			},
		),
		filesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of entry files processed, by outcome",
			},
			[]string{"environment", "outcome"},
		),
		fileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_duration_seconds",
				Help:      "Time to process one entry file",
				Buckets:   buckets,
			},
			[]string{"environment"},
		),
		queuedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_files",
				Help:      "Entry files waiting for a worker",
			},
		),
		moduleEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_evaluations_total",
				Help:      "Total number of module evaluations",
			},
			[]string{"environment", "status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_evaluation_duration_seconds",
				Help:      "Time to evaluate one module, including its imports",
				Buckets:   buckets,
			},
			[]string{"environment"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_lookups_total",
				Help:      "Module cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.filesProcessed,
		m.fileDuration,
		m.queuedFiles,
		m.moduleEvaluations,
		m.moduleDuration,
		m.cacheLookups,
	)
	return m, nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted(environment string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(environment).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordFile records one processed entry file. outcome is "ok", "skipped" or
// an error kind.
func (m *Metrics) RecordFile(environment, outcome string, duration time.Duration) {
	if m.filesProcessed == nil {
		return
	}
	m.filesProcessed.WithLabelValues(environment, outcome).Inc()
	m.fileDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// SetQueuedFiles sets the number of entry files waiting for a worker.
func (m *Metrics) SetQueuedFiles(count int) {
	if m.queuedFiles == nil {
		return
	}
	m.queuedFiles.Set(float64(count))
}

// RecordModuleEvaluation records one module evaluation.
func (m *Metrics) RecordModuleEvaluation(environment string, duration time.Duration, err error) {
	if m.moduleEvaluations == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.moduleEvaluations.WithLabelValues(environment, status).Inc()
	m.moduleDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// RecordCache adds module cache hits and misses.
func (m *Metrics) RecordCache(hits, misses int64) {
	if m.cacheLookups == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background. Listen
// errors are returned immediately; the returned server is nil when metrics are
// disabled.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) (*http.Server, error) {
	if !m.config.Enabled {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("address", listener.Addr().String()).Str("path", path).Msg("serving metrics")
	return server, nil
}

// StopMetricsServer shuts down a server returned by StartMetricsServer.
func StopMetricsServer(ctx context.Context, server *http.Server) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
