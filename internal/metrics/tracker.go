package metrics

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// Tracker accumulates the counters of one job execution. Safe for concurrent
// use; a nil Tracker ignores every call.
type Tracker struct {
	jobID         string
	startedAt     time.Time
	apiCalls      atomic.Int64
	dbQueries     atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

// NewTracker starts tracking a job
func NewTracker(jobID string) *Tracker {
	return &Tracker{
		jobID:     jobID,
		startedAt: time.Now(),
	}
}

func (t *Tracker) RecordAPICall() {
	if t == nil {
		return
	}
	t.apiCalls.Add(1)
}

func (t *Tracker) RecordDBQuery() {
	if t == nil {
		return
	}
	t.dbQueries.Add(1)
}

func (t *Tracker) RecordBytesSent(n int64) {
	if t == nil || n <= 0 {
		return
	}
	t.bytesSent.Add(n)
}

func (t *Tracker) RecordBytesReceived(n int64) {
	if t == nil || n <= 0 {
		return
	}
	t.bytesReceived.Add(n)
}

// Finish materializes the counters into a metrics record
func (t *Tracker) Finish() *models.PerformanceMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	return &models.PerformanceMetrics{
		JobID:         t.jobID,
		APICalls:      t.apiCalls.Load(),
		DBQueries:     t.dbQueries.Load(),
		BytesSent:     t.bytesSent.Load(),
		BytesReceived: t.bytesReceived.Load(),
		DurationMs:    now.Sub(t.startedAt).Milliseconds(),
		MemoryBytes:   mem.HeapAlloc,
		RecordedAt:    now,
	}
}
