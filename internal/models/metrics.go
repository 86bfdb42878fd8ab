package models

import "time"

// PerformanceMetrics are the per-job counters materialized at completion
type PerformanceMetrics struct {
	JobID         string    `json:"job_id"`
	APICalls      int64     `json:"api_calls"`
	DBQueries     int64     `json:"db_queries"`
	BytesSent     int64     `json:"bytes_sent"`
	BytesReceived int64     `json:"bytes_received"`
	DurationMs    int64     `json:"duration_ms"`
	MemoryBytes   uint64    `json:"memory_bytes"`
	RecordedAt    time.Time `json:"recorded_at"`
}
