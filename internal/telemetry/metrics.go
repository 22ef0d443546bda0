// Package telemetry provides logging setup and Prometheus metrics for the APK registry.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<APKR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// HTTP metrics are labelled by Gin route template (c.FullPath()), never by raw
// URL, so package ids in paths do not blow up label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Catalog metrics.
//
// ScanFilesTotal counts every .apk file seen by a scan, labelled result=added|skipped.
// A scan that keeps reporting only skipped files after new drops usually means
// the files are not following the naming convention and collide on version code 0.
//
//   - Ingestion rate:  sum by (result) (rate(apk_scan_files_total[1h]))
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apk_scans_total",
			Help: "Total number of directory scans, by trigger (api, watcher, cli) and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	ScanFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apk_scan_files_total",
			Help: "Total number of .apk files processed by scans, by result.",
		},
		[]string{"result"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apk_uploads_total",
			Help: "Total number of upload attempts, by result (inserted, replaced, rejected, failed).",
		},
		[]string{"result"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apk_upload_bytes_total",
			Help: "Total number of bytes staged by accepted uploads.",
		},
	)
)

// Publication metrics.
//
// PublicationsTotal counts publications reaching a status, labelled by environment.
// PublicationCopyDuration observes the copy step of the copy strategy.
//
//   - Failure ratio:  sum(rate(apk_publications_total{status="failed"}[1h])) / sum(rate(apk_publications_total{status=~"completed|failed"}[1h]))
//   - p95 copy time:  histogram_quantile(0.95, sum by (environment, le) (rate(apk_publication_copy_duration_seconds_bucket[1h])))
var (
	PublicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apk_publications_total",
			Help: "Total number of publication status changes, by environment and status.",
		},
		[]string{"environment", "status"},
	)

	PublicationCopyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apk_publication_copy_duration_seconds",
			Help:    "Duration of the artifact copy step, by environment.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"environment"},
	)

	PendingPublications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apk_pending_publications",
			Help: "Number of pending publications seen by the last verifier pass.",
		},
	)
)

// WatcherEventsTotal counts filesystem events that triggered a rescan.
var WatcherEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apk_watcher_events_total",
		Help: "Total number of filesystem events observed in the source directory, by operation.",
	},
	[]string{"op"},
)

// DBOpenConnections is sampled every 30 seconds by StartDBStatsCollector
// rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds. The
// goroutine exits once the database stops answering pings, which happens when
// main closes it on shutdown.
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
