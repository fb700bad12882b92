package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for layer builds. All metrics live in
// a private registry.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	buildsStarted   prometheus.Counter
	buildsCompleted *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec
	activeBuilds    prometheus.Gauge

	// Phase and item metrics
	phaseDuration *prometheus.HistogramVec
	itemsBuilt    *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec

	// Configuration metrics
	validationFailures *prometheus.CounterVec
	policyViolations   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
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

		buildsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_started_total",
				Help:      "Total number of layer builds started",
			},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Total number of layer builds completed",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of layer builds in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Current number of running layer builds",
			},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase builds in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		itemsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_built_total",
				Help:      "Total number of items built",
			},
			[]string{"kind", "status"},
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Duration of item builds in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of configuration errors by error code",
			},
			[]string{"code"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.buildsStarted,
		m.buildsCompleted,
		m.buildDuration,
		m.activeBuilds,
		m.phaseDuration,
		m.itemsBuilt,
		m.itemDuration,
		m.validationFailures,
		m.policyViolations,
	)

	return m, nil
}

// RecordBuildStarted increments the counter for started builds.
func (m *Metrics) RecordBuildStarted() {
	if m.buildsStarted == nil {
		return
	}
	m.buildsStarted.Inc()
	m.activeBuilds.Inc()
}

// RecordBuildCompleted records a finished build with its status and duration.
func (m *Metrics) RecordBuildCompleted(status string, duration time.Duration) {
	if m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(status).Inc()
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeBuilds.Dec()
}

// RecordPhase records the duration of a phase build.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordItem records an item build.
func (m *Metrics) RecordItem(kind, status string, duration time.Duration) {
	if m.itemsBuilt == nil {
		return
	}
	m.itemsBuilt.WithLabelValues(kind, status).Inc()
	m.itemDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordValidationFailure records a configuration error by its code.
func (m *Metrics) RecordValidationFailure(code string) {
	if m.validationFailures == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.validationFailures.WithLabelValues(code).Inc()
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
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

// StartMetricsServer serves metrics on the configured address in the
// background. It does nothing when metrics are disabled or no address is
// set. The returned server can be shut down by the caller.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return server, nil
}
