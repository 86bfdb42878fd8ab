package models

import "time"

// Timestamps contains common lifecycle fields for persisted records
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressPhase names the stage a running job is in
type ProgressPhase string

const (
	PhaseFetching            ProgressPhase = "fetching"
	PhasePersistingConflicts ProgressPhase = "persisting_conflicts"
	PhaseFinalizing          ProgressPhase = "finalizing"
)
