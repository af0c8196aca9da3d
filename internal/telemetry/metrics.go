// Package telemetry provides application-level observability for the audit trail service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served on
// the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AUDIT_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit write path: entries logged, queue depth, flush latency and batch size, drops
//   - Audit admin path: errors by operation, retention deletions
//   - Database connection pool gauge (polled every 30 s)
//
// Usage:
//
//	telemetry.AuditEntriesLoggedTotal.WithLabelValues(string(entry.Severity)).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Ingest error rate:                 sum(rate(http_requests_total{path="/api/v1/audit/events",status=~"5.."}[5m]))
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit write path.
//
// AuditEntriesLoggedTotal counts entries accepted into the in-memory queue, by severity.
// AuditQueueDepth is the queue length sampled after every append and flush.
// AuditFlushDuration and AuditFlushBatchSize describe each bulk write.
// AuditEntriesDroppedTotal counts entries lost because their bulk write failed.
//
// Example PromQL queries:
//   - Critical events per hour:   sum(increase(audit_entries_logged_total{severity="critical"}[1h]))
//   - Loss alert:                 increase(audit_entries_dropped_total[15m]) > 0
//   - p95 flush latency:          histogram_quantile(0.95, rate(audit_flush_duration_seconds_bucket[10m]))
var (
	AuditEntriesLoggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_logged_total",
			Help: "Total number of audit entries queued for persistence, by severity.",
		},
		[]string{"severity"},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Number of audit entries waiting in the write-behind queue.",
		},
	)

	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_duration_seconds",
			Help:    "Duration of audit batch writes to the store.",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditFlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_batch_size",
			Help:    "Number of entries written per audit flush.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	AuditEntriesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_dropped_total",
			Help: "Total number of audit entries dropped because their batch write failed.",
		},
	)
)

// Audit admin path.
//
// AuditErrorsTotal is labelled by operation: log, flush, query, export, anonymize,
// retention, ship, archive.
//
// Example PromQL queries:
//   - Failing operations:  sum by (op) (rate(audit_errors_total[1h]))
var (
	AuditErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_errors_total",
			Help: "Total number of audit trail operation failures, by operation.",
		},
		[]string{"op"},
	)

	AuditRetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retention_deleted_total",
			Help: "Total number of audit entries removed by the retention policy.",
		},
	)
)

// DBOpenConnections tracks open connections in the sql.DB pool. It is sampled every 30
// seconds by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds until the
// database becomes unreachable, which happens once main defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
