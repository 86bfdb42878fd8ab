package models

import "time"

// QueueItem is the claimable queue row of a pending or retryable job
type QueueItem struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	AvailableAt time.Time  `json:"available_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Claimable reports whether the item may be claimed at now. A lock older than
// twice lockDuration is considered stale.
func (q *QueueItem) Claimable(now time.Time, lockDuration time.Duration) bool {
	if q.AvailableAt.After(now) {
		return false
	}
	if q.LockedBy == nil || q.LockedAt == nil {
		return true
	}
	return now.Sub(*q.LockedAt) > 2*lockDuration
}
