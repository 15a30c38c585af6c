// Package metrics defines custom Prometheus metrics for docstage.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstage_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstage_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstage_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Staging operation metrics.
var (
	// StagingOperationsTotal counts staging operations by operation name and status.
	StagingOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstage_staging_operations_total",
			Help: "Staging operations by type",
		},
		[]string{"operation", "status"},
	)

	// ActiveUploads is a gauge tracking in-flight batch uploads on this instance.
	ActiveUploads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstage_active_uploads",
			Help: "In-flight batch uploads on this instance",
		},
	)

	// DocumentsStagedTotal counts documents written into sub-batch files.
	DocumentsStagedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstage_documents_staged_total",
			Help: "Documents written into sub-batch files",
		},
	)

	// SubBatchFilesTotal counts sub-batch files created (rotations included).
	SubBatchFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstage_sub_batch_files_total",
			Help: "Sub-batch files created",
		},
	)

	// BytesReceivedTotal counts total upload bytes received.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstage_bytes_received_total",
			Help: "Total upload bytes received",
		},
	)

	// StaleDirsSweptTotal counts abandoned in-progress directories removed.
	StaleDirsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstage_stale_dirs_swept_total",
			Help: "Abandoned in-progress directories removed",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			StagingOperationsTotal,
			ActiveUploads,
			DocumentsStagedTotal,
			SubBatchFilesTotal,
			BytesReceivedTotal,
			StaleDirsSweptTotal,
		)
		// Initialize StagingOperationsTotal so it appears in /metrics output
		// even before any batches have been staged.
		StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "success")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual tenant/batch names.
func NormalizePath(path string) string {
	// Known fixed paths.
	switch path {
	case "/health":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "/docs", "/docs/":
		return "/docs"
	case "/openapi.json":
		return "/openapi.json"
	case "/v1/commits":
		return "/v1/commits"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	trimmed := strings.TrimPrefix(path, "/v1/batches")
	if trimmed == path {
		return "/other"
	}
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return "/v1/batches"
	}

	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "/v1/batches/{tenant}"
	}
	if strings.HasSuffix(trimmed, "/status") {
		return "/v1/batches/{tenant}/{batch}/status"
	}
	return "/v1/batches/{tenant}/{batch}"
}
