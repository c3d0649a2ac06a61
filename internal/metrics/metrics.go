// Package metrics declares the Prometheus instrumentation for the import
// pipeline: in-flight item counts, byte-budget utilization, per-table
// throughput, and notification counts by kind.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsInFlight tracks items that have been accepted by the
	// orchestrator but have not yet reached a terminal notification.
	ItemsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orc_import",
		Name:      "items_in_flight",
		Help:      "Number of import items currently in flight.",
	})

	// ItemsProcessedTotal counts items that reached a terminal
	// notification, partitioned by step and outcome.
	ItemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "items_processed_total",
		Help:      "Total import items that reached a terminal notification.",
	}, []string{"type", "status"})

	// ByteBudgetUtilization reports the fraction of each byte budget
	// currently charged out, labeled by budget kind (mem/file).
	ByteBudgetUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orc_import",
		Name:      "byte_budget_utilization",
		Help:      "Fraction of the byte budget currently outstanding.",
	}, []string{"budget"})

	// ByteBudgetOutstandingBytes reports the absolute outstanding charge.
	ByteBudgetOutstandingBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orc_import",
		Name:      "byte_budget_outstanding_bytes",
		Help:      "Bytes currently charged against the byte budget.",
	}, []string{"budget"})

	// TableRowsWrittenTotal counts rows written per destination table.
	TableRowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "table_rows_written_total",
		Help:      "Rows written to a destination table.",
	}, []string{"table"})

	// TableWriteDuration measures per-table write latency.
	TableWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orc_import",
		Name:      "table_write_duration_seconds",
		Help:      "Per-row write latency to a destination table.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table"})

	// NotificationsTotal counts notifications emitted, by type and status.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "notifications_total",
		Help:      "Notifications emitted by the pipeline, by type and status.",
	}, []string{"type", "status"})

	// ArchiveMembersExtractedTotal counts members extracted from archives.
	ArchiveMembersExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "archive_members_extracted_total",
		Help:      "Total archive members extracted across all archives.",
	})

	// ClassifierCacheHitsTotal / ClassifierCacheMissesTotal track the
	// classifier's xxhash-backed memoization cache effectiveness.
	ClassifierCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "classifier_cache_hits_total",
		Help:      "Classifier memoization cache hits.",
	})
	ClassifierCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orc_import",
		Name:      "classifier_cache_misses_total",
		Help:      "Classifier memoization cache misses.",
	})
)
