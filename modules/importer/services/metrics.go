package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importerBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importer",
		Name:      "batches_total",
		Help:      "Total number of import batches broken down by flow and result.",
	}, []string{"flow", "result"})

	importerRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importer",
		Name:      "rows_total",
		Help:      "Total number of processed import rows broken down by flow and outcome.",
	}, []string{"flow", "outcome"})

	importerBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "importer",
		Name:      "batch_duration_seconds",
		Help:      "Import batch latency in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"flow", "result"})

	importerStatementErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importer",
		Subsystem: "statement",
		Name:      "errors_total",
		Help:      "Total number of row-local database errors broken down by class.",
	}, []string{"class"})
)

// Batch results.
const (
	resultCommitted  = "committed"
	resultDryRun     = "dry_run"
	resultRolledBack = "rolled_back"
)

func recordBatch(flow, result string, elapsed time.Duration) {
	importerBatches.WithLabelValues(flow, result).Inc()
	importerBatchDuration.WithLabelValues(flow, result).Observe(elapsed.Seconds())
}

// recordRow counts a processed row. outcome is "committed" or the failure kind.
func recordRow(flow, outcome string) {
	importerRows.WithLabelValues(flow, outcome).Inc()
}

func recordStatementError(class string) {
	if class == "" {
		class = "other"
	}
	importerStatementErrors.WithLabelValues(class).Inc()
}
