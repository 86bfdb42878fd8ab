// Package metrics holds per-job performance tracking and the process-wide
// Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_processed_total",
		Help: "The total number of sync jobs that reached a final outcome",
	}, []string{"status"}) // status: completed, completed_with_errors, failed, cancelled, retried

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_job_duration_seconds",
		Help:    "Duration of sync job executions.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_active_jobs",
		Help: "The number of sync jobs currently executing in this process",
	})

	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_conflicts_detected_total",
		Help: "The total number of field-level conflicts detected",
	}, []string{"entity_type", "resolved"})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_job_retries_total",
		Help: "The total number of sync jobs released for another attempt",
	})

	StaleLocksReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_stale_locks_released_total",
		Help: "The total number of queue locks reclaimed from dead workers",
	})

	ConnectorAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_connector_api_calls_total",
		Help: "The total number of HTTP calls made by connectors",
	}, []string{"platform"})
)
