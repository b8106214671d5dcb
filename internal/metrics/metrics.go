// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ETL pipeline:
// - upstream fetch latency, retries, and auth refreshes
// - normalization throughput and exclusion counts
// - warehouse chunk sizes and failures
// - per-date ingestion outcomes

var (
	// Upstream fetch metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iiko_fetch_duration_seconds",
			Help:    "Duration of upstream iiko API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iiko_fetch_retries_total",
			Help: "Total number of retried upstream requests",
		},
		[]string{"endpoint", "reason"}, // "http_status", "transport", "unauthorized"
	)

	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iiko_fetch_failures_total",
			Help: "Total number of upstream requests that failed after all retries",
		},
		[]string{"endpoint"},
	)

	// Token lifecycle metrics
	TokenRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iiko_token_refreshes_total",
			Help: "Total number of fresh token acquisitions from upstream auth",
		},
	)

	TokenInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iiko_token_invalidations_total",
			Help: "Total number of cached token evictions (401 responses and logouts)",
		},
	)

	// Normalization metrics
	RowsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_rows_total",
			Help: "Total number of upstream rows normalized into destination shape",
		},
		[]string{"job"},
	)

	RowsExcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_rows_excluded_total",
			Help: "Total number of upstream rows excluded by inclusion predicates",
		},
		[]string{"job"},
	)

	// Warehouse sink metrics
	SinkChunkSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warehouse_chunk_rows",
			Help:    "Number of rows per warehouse write chunk",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	SinkRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_rows_written_total",
			Help: "Total number of rows written to the warehouse",
		},
		[]string{"table", "policy"},
	)

	SinkChunkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_chunk_errors_total",
			Help: "Total number of chunk writes that failed and were skipped",
		},
		[]string{"table"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iiko_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iiko_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Run driver metrics
	DatesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dates_total",
			Help: "Total number of calendar dates fully ingested and committed",
		},
	)

	DateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_date_duration_seconds",
			Help:    "End-to-end duration of a single calendar date ingestion",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	DateRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_date_retries_total",
			Help: "Total number of end-to-end date retries",
		},
	)

	RunFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_run_failures_total",
			Help: "Total number of runs that halted with a fatal error",
		},
	)
)

// ObserveFetch records the latency of one upstream request attempt.
func ObserveFetch(endpoint string, start time.Time) {
	FetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// RecordDateIngested records a successfully committed calendar date.
func RecordDateIngested(duration time.Duration) {
	DatesIngested.Inc()
	DateDuration.Observe(duration.Seconds())
}
