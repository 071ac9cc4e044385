package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicom_indexer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicom_indexer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Indexing run metrics
var (
	IndexRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_runs_total",
			Help: "Total number of indexing runs started",
		},
	)

	IndexRunActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_run_active",
			Help: "Whether an indexing run is currently active (1 or 0)",
		},
	)

	IndexEnumeratedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_enumerated_files",
			Help: "Number of candidate files enumerated by the current or last run",
		},
	)

	IndexFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_files_processed_total",
			Help: "Total number of files processed across all runs",
		},
	)

	IndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicom_indexer_errors_total",
			Help: "Total number of per-file indexing errors by kind",
		},
		[]string{"kind"}, // "not_dicom", "missing_fields", "io", "enumerate"
	)

	IndexSeriesCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_series_count",
			Help: "Number of distinct series in the current or last run",
		},
	)

	IndexCheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_checkpoints_total",
			Help: "Total number of index checkpoints written",
		},
	)

	IndexLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_last_run_timestamp",
			Help: "Timestamp of the last completed indexing run",
		},
	)

	IndexLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_last_run_duration_seconds",
			Help: "Duration of the last completed indexing run in seconds",
		},
	)

	IndexPoolWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_pool_workers",
			Help: "Current adaptive worker-pool concurrency limit",
		},
	)
)

// Header extraction metrics
var (
	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dicom_indexer_extract_duration_seconds",
			Help:    "Per-file header extraction duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ExtractRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_extract_retries_total",
			Help: "Total number of extraction I/O retries",
		},
	)
)

// Share metrics
var (
	SharesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_shares_created_total",
			Help: "Total number of share tokens created",
		},
	)

	ShareAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicom_indexer_share_access_total",
			Help: "Total number of share access attempts by result",
		},
		[]string{"result"}, // "success", "expired", "forbidden", "not_found"
	)

	ShareBytesStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicom_indexer_share_bytes_streamed_total",
			Help: "Total number of zip bytes streamed to share downloads",
		},
	)

	ShareStreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicom_indexer_share_streams_in_flight",
			Help: "Number of share downloads currently streaming",
		},
	)
)

// Share database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicom_indexer_db_queries_total",
			Help: "Total number of share database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicom_indexer_db_query_duration_seconds",
			Help:    "Share database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)
