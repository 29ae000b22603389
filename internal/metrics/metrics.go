// Package metrics provides Prometheus metrics for the chunk import engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for chunking and import runs.
type Metrics struct {
	// Chunk metrics
	ChunksCompleted *prometheus.CounterVec
	ChunksSkipped   *prometheus.CounterVec
	ChunksFailed    *prometheus.CounterVec
	ChunksPlanned   *prometheus.CounterVec

	// Row metrics
	RowsImported *prometheus.CounterVec
	RowsSkipped  *prometheus.CounterVec
	LastChunk    *prometheus.GaugeVec

	// Timing metrics
	ChunkImportDuration *prometheus.HistogramVec
	ChunkSplitDuration  *prometheus.HistogramVec

	// Error metrics
	LedgerErrors  *prometheus.CounterVec
	BatchErrors   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chunkloader"
	}

	m := &Metrics{
		ChunksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_completed_total",
				Help:      "Total number of chunks imported successfully",
			},
			[]string{"table", "method"},
		),
		ChunksSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_skipped_total",
				Help:      "Total number of chunks skipped (already completed)",
			},
			[]string{"table", "method"},
		),
		ChunksFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_failed_total",
				Help:      "Total number of chunks that exhausted retries",
			},
			[]string{"table", "method"},
		),
		ChunksPlanned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_planned_total",
				Help:      "Total number of chunks created by the splitter",
			},
			[]string{"table"},
		),
		RowsImported: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_imported_total",
				Help:      "Total number of rows written to the destination",
			},
			[]string{"table", "method"},
		),
		RowsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Total number of rows skipped during import",
			},
			[]string{"table", "method"},
		),
		LastChunk: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_chunk_number",
				Help:      "Last chunk number that reached a terminal state",
			},
			[]string{"table"},
		),
		ChunkImportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_import_duration_seconds",
				Help:      "Time to import one chunk",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"table", "method"},
		),
		ChunkSplitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_split_duration_seconds",
				Help:      "Time to split a source file into chunks",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
			},
			[]string{"table"},
		),
		LedgerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Total number of progress ledger errors",
			},
			[]string{"table"},
		),
		BatchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_errors_total",
				Help:      "Total number of destination sub-batch write errors",
			},
			[]string{"table", "method"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of chunk retry attempts",
			},
			[]string{"table", "method"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Table  string
	Method string
}

// IncChunksCompleted increments the completed chunk counter.
func (m *Metrics) IncChunksCompleted(l Labels) {
	m.ChunksCompleted.WithLabelValues(l.Table, l.Method).Inc()
}

// IncChunksSkipped increments the skipped chunk counter.
func (m *Metrics) IncChunksSkipped(l Labels) {
	m.ChunksSkipped.WithLabelValues(l.Table, l.Method).Inc()
}

// IncChunksFailed increments the failed chunk counter.
func (m *Metrics) IncChunksFailed(l Labels) {
	m.ChunksFailed.WithLabelValues(l.Table, l.Method).Inc()
}

// AddChunksPlanned adds to the planned chunk counter.
func (m *Metrics) AddChunksPlanned(table string, count float64) {
	m.ChunksPlanned.WithLabelValues(table).Add(count)
}

// AddRowsImported adds to the imported row counter.
func (m *Metrics) AddRowsImported(l Labels, count float64) {
	m.RowsImported.WithLabelValues(l.Table, l.Method).Add(count)
}

// AddRowsSkipped adds to the skipped row counter.
func (m *Metrics) AddRowsSkipped(l Labels, count float64) {
	m.RowsSkipped.WithLabelValues(l.Table, l.Method).Add(count)
}

// SetLastChunk sets the last terminal chunk number.
func (m *Metrics) SetLastChunk(table string, n float64) {
	m.LastChunk.WithLabelValues(table).Set(n)
}

// ObserveChunkImportDuration records one chunk's import time.
func (m *Metrics) ObserveChunkImportDuration(l Labels, seconds float64) {
	m.ChunkImportDuration.WithLabelValues(l.Table, l.Method).Observe(seconds)
}

// ObserveChunkSplitDuration records one source file's split time.
func (m *Metrics) ObserveChunkSplitDuration(table string, seconds float64) {
	m.ChunkSplitDuration.WithLabelValues(table).Observe(seconds)
}

// IncLedgerErrors increments the ledger error counter.
func (m *Metrics) IncLedgerErrors(table string) {
	m.LedgerErrors.WithLabelValues(table).Inc()
}

// IncBatchErrors increments the sub-batch error counter.
func (m *Metrics) IncBatchErrors(l Labels) {
	m.BatchErrors.WithLabelValues(l.Table, l.Method).Inc()
}

// IncRetryAttempts increments the retry counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Table, l.Method).Inc()
}
