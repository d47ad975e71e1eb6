package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for entwarden.
type Metrics struct {
	config MetricsConfig

	// Ledger metrics
	creationsLogged   *prometheus.CounterVec
	ledgerRecords     prometheus.Gauge
	cleanupCandidates prometheus.Gauge

	// Cleanup transaction metrics
	transactionsExecuted *prometheus.CounterVec
	transactionDuration  *prometheus.HistogramVec
	entityRemovals       *prometheus.CounterVec
	staleReleased        prometheus.Counter

	// Reconciliation metrics
	cyclesRun               *prometheus.CounterVec
	cycleDuration           *prometheus.HistogramVec
	inconsistenciesDetected *prometheus.CounterVec
	activeInconsistencies   *prometheus.GaugeVec
	correctionsAttempted    *prometheus.CounterVec
	criticalIssues          prometheus.Counter

	// Registry metrics
	registryCalls    *prometheus.CounterVec
	registryDuration *prometheus.HistogramVec
	registryErrors   *prometheus.CounterVec
	externalEntities prometheus.Gauge
	trackedEntities  prometheus.Gauge

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeTransactions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Ledger metrics
		creationsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "creations_logged_total",
				Help:      "Total number of entity creations logged to the ledger",
			},
			[]string{"owner"},
		),
		ledgerRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_records",
				Help:      "Current number of records in the ledger arena",
			},
		),
		cleanupCandidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cleanup_candidates",
				Help:      "Current number of entities marked for cleanup",
			},
		),

		// Cleanup transaction metrics
		transactionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_transactions_total",
				Help:      "Total number of cleanup transactions by final status",
			},
			[]string{"status"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cleanup_transaction_duration_seconds",
				Help:      "Duration of cleanup transactions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		entityRemovals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_removals_total",
				Help:      "Total number of entity removal attempts by outcome",
			},
			[]string{"outcome"},
		),
		staleReleased: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_transactions_released_total",
				Help:      "Total number of stuck transactions force-released",
			},
		),

		// Reconciliation metrics
		cyclesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_cycles_total",
				Help:      "Total number of reconciliation cycles by trigger",
			},
			[]string{"trigger"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"trigger"},
		),
		inconsistenciesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inconsistencies_detected_total",
				Help:      "Total number of inconsistencies detected",
			},
			[]string{"kind", "severity"},
		),
		activeInconsistencies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_inconsistencies",
				Help:      "Current number of unresolved inconsistencies",
			},
			[]string{"kind"},
		),
		correctionsAttempted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrections_total",
				Help:      "Total number of automatic corrections by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		criticalIssues: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "critical_issues_total",
				Help:      "Total number of critical issues surfaced for manual intervention",
			},
		),

		// Registry metrics
		registryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_calls_total",
				Help:      "Total number of external registry calls",
			},
			[]string{"store", "operation"},
		),
		registryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_call_duration_seconds",
				Help:      "Duration of external registry calls in seconds",
				Buckets:   buckets,
			},
			[]string{"store", "operation"},
		),
		registryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_errors_total",
				Help:      "Total number of external registry errors",
			},
			[]string{"store", "operation"},
		),
		externalEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "external_entities",
				Help:      "Entity count observed in the external registry",
			},
		),
		trackedEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_entities",
				Help:      "Entity count tracked as alive by the ledger",
			},
		),

		// Policy metrics
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		// Error metrics
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

		// System metrics
		activeTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transactions",
				Help:      "Current number of in-progress cleanup transactions",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.creationsLogged,
		m.ledgerRecords,
		m.cleanupCandidates,
		m.transactionsExecuted,
		m.transactionDuration,
		m.entityRemovals,
		m.staleReleased,
		m.cyclesRun,
		m.cycleDuration,
		m.inconsistenciesDetected,
		m.activeInconsistencies,
		m.correctionsAttempted,
		m.criticalIssues,
		m.registryCalls,
		m.registryDuration,
		m.registryErrors,
		m.externalEntities,
		m.trackedEntities,
		m.policyViolations,
		m.errorsByClass,
		m.errorsByCode,
		m.activeTransactions,
	)

	return m, nil
}

// Ledger Metrics

// RecordCreationLogged increments the counter for logged creations.
func (m *Metrics) RecordCreationLogged(owner string) {
	if m.creationsLogged == nil {
		return
	}
	m.creationsLogged.WithLabelValues(owner).Inc()
}

// SetLedgerRecords sets the current ledger arena size.
func (m *Metrics) SetLedgerRecords(count float64) {
	if m.ledgerRecords == nil {
		return
	}
	m.ledgerRecords.Set(count)
}

// SetCleanupCandidates sets the current cleanup candidate count.
func (m *Metrics) SetCleanupCandidates(count float64) {
	if m.cleanupCandidates == nil {
		return
	}
	m.cleanupCandidates.Set(count)
}

// Cleanup Transaction Metrics

// RecordTransactionStarted increments the in-progress transaction gauge.
func (m *Metrics) RecordTransactionStarted() {
	if m.activeTransactions == nil {
		return
	}
	m.activeTransactions.Inc()
}

// RecordTransactionCompleted records a finished transaction with its final
// status and duration.
func (m *Metrics) RecordTransactionCompleted(status string, duration time.Duration) {
	if m.transactionsExecuted == nil {
		return
	}
	m.transactionsExecuted.WithLabelValues(status).Inc()
	m.transactionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeTransactions.Dec()
}

// RecordEntityRemoval records a single removal attempt outcome.
func (m *Metrics) RecordEntityRemoval(outcome string) {
	if m.entityRemovals == nil {
		return
	}
	m.entityRemovals.WithLabelValues(outcome).Inc()
}

// RecordStaleTransactionReleased increments the stuck-transaction counter.
func (m *Metrics) RecordStaleTransactionReleased() {
	if m.staleReleased == nil {
		return
	}
	m.staleReleased.Inc()
}

// Reconciliation Metrics

// RecordCycleCompleted records a finished reconciliation cycle.
func (m *Metrics) RecordCycleCompleted(trigger string, duration time.Duration) {
	if m.cyclesRun == nil {
		return
	}
	m.cyclesRun.WithLabelValues(trigger).Inc()
	m.cycleDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordInconsistency records a detected inconsistency.
func (m *Metrics) RecordInconsistency(kind, severity string) {
	if m.inconsistenciesDetected == nil {
		return
	}
	m.inconsistenciesDetected.WithLabelValues(kind, severity).Inc()
}

// SetActiveInconsistencies sets the unresolved inconsistency gauge for a kind.
func (m *Metrics) SetActiveInconsistencies(kind string, count float64) {
	if m.activeInconsistencies == nil {
		return
	}
	m.activeInconsistencies.WithLabelValues(kind).Set(count)
}

// RecordCorrection records an automatic correction attempt.
func (m *Metrics) RecordCorrection(method, outcome string) {
	if m.correctionsAttempted == nil {
		return
	}
	m.correctionsAttempted.WithLabelValues(method, outcome).Inc()
}

// RecordCriticalIssue increments the critical issue counter.
func (m *Metrics) RecordCriticalIssue() {
	if m.criticalIssues == nil {
		return
	}
	m.criticalIssues.Inc()
}

// Registry Metrics

// RecordRegistryCall records a registry call with its duration.
func (m *Metrics) RecordRegistryCall(store, operation string, duration time.Duration) {
	if m.registryCalls == nil {
		return
	}
	m.registryCalls.WithLabelValues(store, operation).Inc()
	m.registryDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

// RecordRegistryError records a registry error.
func (m *Metrics) RecordRegistryError(store, operation string) {
	if m.registryErrors == nil {
		return
	}
	m.registryErrors.WithLabelValues(store, operation).Inc()
}

// SetExternalEntities sets the external registry entity count.
func (m *Metrics) SetExternalEntities(count float64) {
	if m.externalEntities == nil {
		return
	}
	m.externalEntities.Set(count)
}

// SetTrackedEntities sets the tracked entity count.
func (m *Metrics) SetTrackedEntities(count float64) {
	if m.trackedEntities == nil {
		return
	}
	m.trackedEntities.Set(count)
}

// Policy Metrics

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return nil
}
