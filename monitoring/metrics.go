// Package monitoring provides metrics and observability for the site version job runner
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle metrics
	jobSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_job_submissions_total",
			Help: "Total number of job submissions by mode and result",
		},
		[]string{"mode", "result"},
	)

	jobPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_job_polls_total",
			Help: "Total number of job progress polls by normalized status",
		},
		[]string{"mode", "status"},
	)

	jobOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_job_outcomes_total",
			Help: "Total number of per-site outcomes by terminal status",
		},
		[]string{"mode", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "site_job_duration_seconds",
			Help:    "Time from submission to terminal outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"mode", "status"},
	)

	storageReleasedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_storage_released_bytes_total",
			Help: "Storage released by completed jobs",
		},
		[]string{"mode"},
	)

	// Remote API metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_remote_requests_total",
			Help: "Total number of requests sent to the remote job API",
		},
		[]string{"operation", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "site_remote_request_duration_seconds",
			Help:    "Duration of remote job API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Worker metrics
	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "site_job_active_workers",
			Help: "Number of workers processing sites",
		},
	)

	// HTTP metrics for the status server
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_job_http_requests_total",
			Help: "Total number of status server HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordSubmission records a job submission attempt
func RecordSubmission(mode, result string) {
	jobSubmissionsTotal.WithLabelValues(mode, result).Inc()
}

// RecordPoll records one progress poll
func RecordPoll(mode, status string) {
	jobPollsTotal.WithLabelValues(mode, status).Inc()
}

// RecordOutcome records a terminal per-site outcome
func RecordOutcome(mode, status string, duration float64) {
	jobOutcomesTotal.WithLabelValues(mode, status).Inc()
	jobDuration.WithLabelValues(mode, status).Observe(duration)
}

// RecordStorageReleased adds released bytes reported by a job
func RecordStorageReleased(mode string, bytes int64) {
	if bytes > 0 {
		storageReleasedBytes.WithLabelValues(mode).Add(float64(bytes))
	}
}

// RecordRemoteRequest records metrics for one remote API call
func RecordRemoteRequest(operation, status string, duration float64) {
	remoteRequestsTotal.WithLabelValues(operation, status).Inc()
	remoteRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordHTTPRequest records status server request metrics
func RecordHTTPRequest(method, endpoint, status string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}

// UpdateActiveWorkers updates the active workers gauge
func UpdateActiveWorkers(count int) {
	activeWorkers.Set(float64(count))
}
