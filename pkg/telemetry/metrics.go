package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the ingest service. All recorders are
// safe to call on a disabled or nil instance.
type Metrics struct {
	config MetricsConfig

	depositsStarted   *prometheus.CounterVec
	depositsCompleted *prometheus.CounterVec
	depositDuration   *prometheus.HistogramVec
	activeDeposits    prometheus.Gauge

	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec

	serviceCalls    *prometheus.CounterVec
	serviceDuration *prometheus.HistogramVec
	serviceErrors   *prometheus.CounterVec

	eventsRecorded *prometheus.CounterVec

	cacheSize      prometheus.Gauge
	cacheEvictions prometheus.Counter

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
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

		depositsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_started_total",
				Help:      "Total number of deposits accepted",
			},
			[]string{"user"},
		),
		depositsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_completed_total",
				Help:      "Total number of deposits that reached a terminal or paused state",
			},
			[]string{"status"},
		),
		depositDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deposit_duration_seconds",
				Help:      "Duration of deposit processing in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeDeposits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deposits",
				Help:      "Current number of deposits being processed",
			},
		),
		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of ingest phases executed",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of ingest phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		serviceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Total number of ingest service executions",
			},
			[]string{"service"},
		),
		serviceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Duration of ingest service executions in seconds",
				Buckets:   buckets,
			},
			[]string{"service"},
		),
		serviceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_errors_total",
				Help:      "Total number of failed ingest service executions",
			},
			[]string{"service"},
		),
		eventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Total number of deposit events recorded by type",
			},
			[]string{"type"},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deposit_cache_entries",
				Help:      "Current number of deposits held in the state cache",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposit_cache_evictions_total",
				Help:      "Total number of deposits evicted from the state cache",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.depositsStarted,
		m.depositsCompleted,
		m.depositDuration,
		m.activeDeposits,
		m.phasesExecuted,
		m.phaseDuration,
		m.serviceCalls,
		m.serviceDuration,
		m.serviceErrors,
		m.eventsRecorded,
		m.cacheSize,
		m.cacheEvictions,
		m.errorsByClass,
		m.errorsByCode,
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

// Deposit Metrics

// RecordDepositStarted increments the counter for accepted deposits.
func (m *Metrics) RecordDepositStarted(user string) {
	if m == nil || m.depositsStarted == nil {
		return
	}
	m.depositsStarted.WithLabelValues(user).Inc()
	m.activeDeposits.Inc()
}

// RecordDepositResumed marks a resumed deposit as active again.
func (m *Metrics) RecordDepositResumed() {
	if m == nil || m.activeDeposits == nil {
		return
	}
	m.activeDeposits.Inc()
}

// RecordDepositFinished records a deposit run ending with the given status.
func (m *Metrics) RecordDepositFinished(status string, duration time.Duration) {
	if m == nil || m.depositsCompleted == nil {
		return
	}
	m.depositsCompleted.WithLabelValues(status).Inc()
	m.depositDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeposits.Dec()
}

// Phase Metrics

// RecordPhaseExecution records the execution of one ingest phase.
func (m *Metrics) RecordPhaseExecution(phase int, status string, duration time.Duration) {
	if m == nil || m.phasesExecuted == nil {
		return
	}
	label := strconv.Itoa(phase)
	m.phasesExecuted.WithLabelValues(label, status).Inc()
	m.phaseDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Service Metrics

// RecordServiceCall records a service execution with its duration.
func (m *Metrics) RecordServiceCall(service string, duration time.Duration) {
	if m == nil || m.serviceCalls == nil {
		return
	}
	m.serviceCalls.WithLabelValues(service).Inc()
	m.serviceDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordServiceError records a failed service execution.
func (m *Metrics) RecordServiceError(service string) {
	if m == nil || m.serviceErrors == nil {
		return
	}
	m.serviceErrors.WithLabelValues(service).Inc()
}

// RecordEvent counts one recorded deposit event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil || m.eventsRecorded == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

// Cache Metrics

// SetCacheSize sets the current number of cached deposits.
func (m *Metrics) SetCacheSize(n int) {
	if m == nil || m.cacheSize == nil {
		return
	}
	m.cacheSize.Set(float64(n))
}

// RecordCacheEviction counts one evicted deposit.
func (m *Metrics) RecordCacheEviction() {
	if m == nil || m.cacheEvictions == nil {
		return
	}
	m.cacheEvictions.Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
