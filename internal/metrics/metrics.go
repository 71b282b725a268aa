// Package metrics provides Prometheus metrics for the Dabo server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dabo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Manifest metrics
	manifestBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dabo_manifest_build_duration_seconds",
			Help:    "Time to build an application manifest",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app"},
	)

	manifestEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dabo_manifest_entries",
			Help: "Number of files in the most recent manifest per app",
		},
		[]string{"app"},
	)

	manifestDiffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_manifest_diffs_total",
			Help: "Manifest diff requests by outcome",
		},
		[]string{"result"}, // unchanged, deletions_only, changed, invalid
	)

	// Archive metrics
	archiveBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dabo_archive_bytes_total",
			Help: "Total bytes of update archives served",
		},
	)

	archiveEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dabo_archive_entries_total",
			Help: "Total files packaged into update archives",
		},
	)

	// File cache metrics
	fileCacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_filecache_operations_total",
			Help: "File cache operations",
		},
		[]string{"op", "status"},
	)

	fileCachePruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dabo_filecache_pruned_total",
			Help: "Expired diff entries removed from the file cache",
		},
	)

	// Bizobj metrics
	bizCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_bizobj_calls_total",
			Help: "Remote bizobj calls",
		},
		[]string{"datasource", "method", "status"},
	)

	bizCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dabo_bizobj_call_duration_seconds",
			Help:    "Remote bizobj call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"datasource", "method"},
	)

	bizHandlesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dabo_bizobj_handles_active",
			Help: "Live bizobj handles held in the pool",
		},
	)

	// Database metrics
	dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dabo_db_connections_open",
			Help: "Number of open database connections",
		},
		[]string{"db"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dabo_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric. route is the mux
// pattern, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordManifestBuild records the build time and size of an app manifest.
func RecordManifestBuild(app string, entries int, duration time.Duration) {
	manifestBuildDuration.WithLabelValues(app).Observe(duration.Seconds())
	manifestEntries.WithLabelValues(app).Set(float64(entries))
}

// RecordDiff records the outcome of a diff request.
func RecordDiff(result string) {
	manifestDiffsTotal.WithLabelValues(result).Inc()
}

// RecordArchive records a served update archive.
func RecordArchive(bytes int64, entries int) {
	archiveBytesTotal.Add(float64(bytes))
	archiveEntriesTotal.Add(float64(entries))
}

// RecordFileCacheOp records a store or fetch against the file cache.
func RecordFileCacheOp(op string, ok bool) {
	fileCacheOpsTotal.WithLabelValues(op, status(ok)).Inc()
}

// RecordFileCachePrune records expired entries removed by the janitor.
func RecordFileCachePrune(n int) {
	fileCachePruned.Add(float64(n))
}

// RecordBizCall records a remote bizobj call.
func RecordBizCall(dataSource, method string, ok bool, duration time.Duration) {
	bizCallsTotal.WithLabelValues(dataSource, method, status(ok)).Inc()
	bizCallDuration.WithLabelValues(dataSource, method).Observe(duration.Seconds())
}

// SetBizHandlesActive sets the number of live bizobj handles.
func SetBizHandlesActive(n int) {
	bizHandlesActive.Set(float64(n))
}

// SetDBConnectionsOpen sets the number of open connections for a named DB.
func SetDBConnectionsOpen(db string, count int) {
	dbConnectionsOpen.WithLabelValues(db).Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, ok bool) {
	s3OperationDuration.WithLabelValues(operation, status(ok)).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched mux pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
