// Package metrics provides Prometheus metrics for the tenant schema
// evolution engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Catalog metrics
	CatalogVersionsTotal   *prometheus.GaugeVec
	SchemaRegistrationsTotal *prometheus.CounterVec

	// Reconcile metrics
	ReconcileStatementsTotal *prometheus.CounterVec
	ReconcileDuration        *prometheus.HistogramVec
	ReconcileFailuresTotal   *prometheus.CounterVec

	// Lock metrics
	LockAcquireTotal    *prometheus.CounterVec
	LockConflictsTotal  *prometheus.CounterVec
	LockHoldDuration    *prometheus.HistogramVec

	// Drift detector metrics
	DriftProposalsTotal *prometheus.CounterVec

	// Scheduler metrics
	SchedulerRunsTotal    *prometheus.CounterVec
	SchedulerLastRunUnix  *prometheus.GaugeVec
	SchedulerShardsDropped prometheus.Counter
	SchedulerShardsCreated prometheus.Counter

	// Tenant connection pool metrics
	TenantConnectionsOpen *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_requests_total",
			Help: "Total number of control-plane HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_evolve_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_evolve_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.CatalogVersionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_evolve_catalog_active_versions",
			Help: "Number of active catalog entries by database_type",
		},
		[]string{"database_type"},
	)

	m.SchemaRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_schema_registrations_total",
			Help: "Total number of PutNewVersion calls by outcome",
		},
		[]string{"table_name", "status"},
	)

	m.ReconcileStatementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_reconcile_statements_total",
			Help: "Total number of DDL statements executed by phase and outcome",
		},
		[]string{"phase", "status"},
	)

	m.ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_evolve_reconcile_duration_seconds",
			Help:    "Time spent reconciling one physical table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table_name"},
	)

	m.ReconcileFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_reconcile_failures_total",
			Help: "Total number of fatal reconcile failures",
		},
		[]string{"table_name"},
	)

	m.LockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_lock_acquire_total",
			Help: "Total number of migration lock acquisition attempts",
		},
		[]string{"lock_type", "status"},
	)

	m.LockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_lock_conflicts_total",
			Help: "Total number of LockConflict errors by requested lock type",
		},
		[]string{"lock_type"},
	)

	m.LockHoldDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_evolve_lock_hold_duration_seconds",
			Help:    "Duration a migration lock was held before release",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lock_type"},
	)

	m.DriftProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_drift_proposals_total",
			Help: "Total number of proposals emitted by the drift detector by reason",
		},
		[]string{"reason"},
	)

	m.SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_evolve_scheduler_runs_total",
			Help: "Total number of scheduler job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	m.SchedulerLastRunUnix = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_evolve_scheduler_last_run_unix",
			Help: "Unix timestamp of the last completed run, by job",
		},
		[]string{"job"},
	)

	m.SchedulerShardsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_evolve_scheduler_shards_dropped_total",
			Help: "Total number of time-shard tables dropped by retention cleanup",
		},
	)

	m.SchedulerShardsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_evolve_scheduler_shards_created_total",
			Help: "Total number of time-shard tables pre-created",
		},
	)

	m.TenantConnectionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_evolve_tenant_connections_open",
			Help: "Number of open *sql.DB connections held by the tenant registry",
		},
		[]string{"tenant_id", "role"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.CatalogVersionsTotal,
		m.SchemaRegistrationsTotal,
		m.ReconcileStatementsTotal,
		m.ReconcileDuration,
		m.ReconcileFailuresTotal,
		m.LockAcquireTotal,
		m.LockConflictsTotal,
		m.LockHoldDuration,
		m.DriftProposalsTotal,
		m.SchedulerRunsTotal,
		m.SchedulerLastRunUnix,
		m.SchedulerShardsDropped,
		m.SchedulerShardsCreated,
		m.TenantConnectionsOpen,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes a URL path to reduce cardinality, matching
// the control-plane route table (spec §6).
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/schemas/") && strings.Contains(path, "/history"):
		return "/schemas/{table}/history"
	case strings.HasPrefix(path, "/schemas/") && strings.Contains(path, "/execute"):
		return "/schemas/{table}/execute"
	case strings.HasPrefix(path, "/schemas/"):
		return "/schemas/{table}"
	case strings.HasPrefix(path, "/locks/"):
		return "/locks/{action}"
	case strings.HasPrefix(path, "/connections/"):
		return "/connections/{action}"
	case strings.HasPrefix(path, "/schema-detection/"):
		return "/schema-detection/{action}"
	}
	return path
}

// RecordSchemaRegistration records a PutNewVersion attempt.
func (m *Metrics) RecordSchemaRegistration(tableName string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SchemaRegistrationsTotal.WithLabelValues(tableName, status).Inc()
}

// RecordReconcileStatement records one DDL statement's outcome within a
// reconcile phase.
func (m *Metrics) RecordReconcileStatement(phase string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ReconcileStatementsTotal.WithLabelValues(phase, status).Inc()
}

// RecordReconcile records the total duration of one physical table's
// reconcile pass and whether it ended fatally.
func (m *Metrics) RecordReconcile(tableName string, duration time.Duration, fatal bool) {
	m.ReconcileDuration.WithLabelValues(tableName).Observe(duration.Seconds())
	if fatal {
		m.ReconcileFailuresTotal.WithLabelValues(tableName).Inc()
	}
}

// RecordLockAcquire records a lock acquisition attempt.
func (m *Metrics) RecordLockAcquire(lockType string, success bool) {
	status := "acquired"
	if !success {
		status = "conflict"
		m.LockConflictsTotal.WithLabelValues(lockType).Inc()
	}
	m.LockAcquireTotal.WithLabelValues(lockType, status).Inc()
}

// RecordLockHold records how long a lock was held before release.
func (m *Metrics) RecordLockHold(lockType string, duration time.Duration) {
	m.LockHoldDuration.WithLabelValues(lockType).Observe(duration.Seconds())
}

// RecordDriftProposal records one proposal emitted by the drift
// detector.
func (m *Metrics) RecordDriftProposal(reason string) {
	m.DriftProposalsTotal.WithLabelValues(reason).Inc()
}

// RecordSchedulerRun records one completed scheduler job run.
func (m *Metrics) RecordSchedulerRun(job string, success bool, at time.Time) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SchedulerRunsTotal.WithLabelValues(job, status).Inc()
	m.SchedulerLastRunUnix.WithLabelValues(job).Set(float64(at.Unix()))
}

// UpdateCatalogVersionCount updates the active-version gauge for a
// database_type.
func (m *Metrics) UpdateCatalogVersionCount(databaseType string, count float64) {
	m.CatalogVersionsTotal.WithLabelValues(databaseType).Set(count)
}

// UpdateTenantConnectionCount updates the open-connection gauge for a
// tenant+role pair.
func (m *Metrics) UpdateTenantConnectionCount(tenantID, role string, count float64) {
	m.TenantConnectionsOpen.WithLabelValues(tenantID, role).Set(count)
}
