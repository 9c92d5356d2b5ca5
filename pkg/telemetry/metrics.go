package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for provisioning. A disabled Metrics
// is safe to use; every Record method is a no-op.
type Metrics struct {
	config MetricsConfig

	provisionsStarted   *prometheus.CounterVec
	provisionsCompleted *prometheus.CounterVec
	provisionDuration   *prometheus.HistogramVec

	attempts       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	backoffSeconds *prometheus.HistogramVec

	errorsByCategory *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec

	idempotencyDecisions *prometheus.CounterVec
	nameWarnings         *prometheus.CounterVec

	activeProvisions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.BackoffBuckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(0.5, 2, 8)
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		provisionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_started_total",
				Help:      "Total number of provisioning invocations started",
			},
			[]string{"resource_type", "environment"},
		),
		provisionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_completed_total",
				Help:      "Total number of provisioning invocations by final state",
			},
			[]string{"resource_type", "state"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Duration of provisioning invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource_type", "state"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_attempts_total",
				Help:      "Total number of backend call attempts by activity",
			},
			[]string{"activity"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retries after transient failures",
			},
			[]string{"activity"},
		),
		backoffSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_backoff_seconds",
				Help:      "Backoff delay before each retry in seconds",
				Buckets:   buckets,
			},
			[]string{"activity"},
		),
		errorsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_category_total",
				Help:      "Total number of provisioning errors by category",
			},
			[]string{"category"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of provisioning errors by error code",
			},
			[]string{"code"},
		),
		idempotencyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotency_decisions_total",
				Help:      "Total number of idempotency gate decisions",
			},
			[]string{"decision"},
		),
		nameWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "name_policy_warnings_total",
				Help:      "Total number of non-compliant names accepted in soft mode",
			},
			[]string{"resource_type"},
		),
		activeProvisions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_provisions",
				Help:      "Current number of in-flight provisioning invocations",
			},
		),
	}

	registry.MustRegister(
		m.provisionsStarted,
		m.provisionsCompleted,
		m.provisionDuration,
		m.attempts,
		m.retries,
		m.backoffSeconds,
		m.errorsByCategory,
		m.errorsByCode,
		m.idempotencyDecisions,
		m.nameWarnings,
		m.activeProvisions,
	)

	return m, nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordProvisionStarted counts a started invocation.
func (m *Metrics) RecordProvisionStarted(resourceType engine.ResourceType, env engine.Environment) {
	if m == nil || m.provisionsStarted == nil {
		return
	}
	m.provisionsStarted.WithLabelValues(string(resourceType), string(env)).Inc()
	m.activeProvisions.Inc()
}

// RecordProvisionCompleted records the final state and duration of an
// invocation.
func (m *Metrics) RecordProvisionCompleted(resourceType engine.ResourceType, state engine.State, duration time.Duration) {
	if m == nil || m.provisionsCompleted == nil {
		return
	}
	m.provisionsCompleted.WithLabelValues(string(resourceType), string(state)).Inc()
	m.provisionDuration.WithLabelValues(string(resourceType), string(state)).Observe(duration.Seconds())
	m.activeProvisions.Dec()
}

// RecordAttempt counts one backend call attempt.
func (m *Metrics) RecordAttempt(activity string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(activity).Inc()
}

// RecordRetry counts a retry and observes its backoff delay.
func (m *Metrics) RecordRetry(activity string, delay time.Duration) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(activity).Inc()
	m.backoffSeconds.WithLabelValues(activity).Observe(delay.Seconds())
}

// RecordError counts err by category and code. Non-taxonomy errors are
// counted as ProvisioningFailedError.
func (m *Metrics) RecordError(err error) {
	if m == nil || m.errorsByCategory == nil || err == nil {
		return
	}
	perr := engine.Normalize(err, "", "")
	m.errorsByCategory.WithLabelValues(string(perr.Category)).Inc()
	if perr.Code != "" {
		m.errorsByCode.WithLabelValues(perr.Code).Inc()
	}
}

// RecordDecision counts an idempotency gate decision.
func (m *Metrics) RecordDecision(kind engine.DecisionKind) {
	if m == nil || m.idempotencyDecisions == nil {
		return
	}
	m.idempotencyDecisions.WithLabelValues(string(kind)).Inc()
}

// RecordNameWarning counts a non-compliant name accepted in soft mode.
func (m *Metrics) RecordNameWarning(resourceType engine.ResourceType) {
	if m == nil || m.nameWarnings == nil {
		return
	}
	m.nameWarnings.WithLabelValues(string(resourceType)).Inc()
}

// RetryHook returns a hook for engine.WithRetryHook that records retries.
func (m *Metrics) RetryHook() engine.RetryHook {
	return func(label string, _ int, delay time.Duration, _ *engine.ProvisioningError) {
		m.RecordRetry(label, delay)
	}
}

// Timer measures elapsed time.
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
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is canceled. It returns
// immediately when metrics are disabled or no listen address is set.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
