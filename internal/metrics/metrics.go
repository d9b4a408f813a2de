// Package metrics provides Prometheus metrics for pushbox.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

var (
	// Remote service calls
	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushbox_remote_call_duration_seconds",
			Help:    "Remote service call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbox_remote_calls_total",
			Help: "Total remote service calls",
		},
		[]string{"backend", "operation", "status"},
	)

	// Upload runs
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbox_uploads_total",
			Help: "Files written to the remote, by plan action and result",
		},
		[]string{"action", "status"},
	)

	uploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushbox_uploaded_bytes_total",
			Help: "Bytes successfully written to the remote",
		},
	)

	filesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbox_files_skipped_total",
			Help: "Files left out of a run's writes",
		},
		[]string{"reason"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbox_runs_total",
			Help: "Upload runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushbox_run_duration_seconds",
			Help:    "Upload run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return statusSuccess
	}

	return statusError
}

// RecordRemoteCall records one call to a remote backend.
func RecordRemoteCall(backend, operation string, duration time.Duration, success bool) {
	remoteCallDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	remoteCallsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordUpload records one attempted write. bytes counts only on success.
func RecordUpload(action string, bytes int64, success bool) {
	uploadsTotal.WithLabelValues(action, status(success)).Inc()

	if success {
		uploadedBytes.Add(float64(bytes))
	}
}

// RecordSkipped records a file that was not written, with why.
func RecordSkipped(reason string) {
	filesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordRun records a finished run.
func RecordRun(outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())
}
