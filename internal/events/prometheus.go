package events

import (
	"strconv"

	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// MetricsListener feeds lifecycle events into the Prometheus collectors
type MetricsListener struct{}

func (MetricsListener) HandleEvent(e Event) {
	switch e.Type {
	case JobCompleted:
		status := models.JobStatusCompleted
		if e.Result != nil {
			if !e.Result.Success {
				status = models.JobStatusCompletedWithErrors
			}
			metrics.JobDuration.Observe(float64(e.Result.DurationMs) / 1000)
		}
		metrics.JobsProcessed.WithLabelValues(string(status)).Inc()
	case JobFailed:
		metrics.JobsProcessed.WithLabelValues(string(models.JobStatusFailed)).Inc()
	case JobCancelled:
		metrics.JobsProcessed.WithLabelValues(string(models.JobStatusCancelled)).Inc()
	case ConflictDetected:
		if e.Conflict != nil {
			metrics.ConflictsDetected.WithLabelValues(e.Conflict.EntityType, strconv.FormatBool(e.Conflict.Resolved())).Inc()
		}
	}
}
