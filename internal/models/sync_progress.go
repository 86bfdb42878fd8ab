package models

import "time"

// SyncProgress represents the progress of a running sync job
type SyncProgress struct {
	Phase             ProgressPhase `json:"phase"`
	CurrentEntity     string        `json:"current_entity,omitempty"`
	CompletedEntities int           `json:"completed_entities"`
	TotalEntities     int           `json:"total_entities"`
	Percentage        int           `json:"percentage"`
	ItemsProcessed    int           `json:"items_processed"`
	ConflictsSaved    int           `json:"conflicts_saved,omitempty"`
	ConflictsTotal    int           `json:"conflicts_total,omitempty"`
	LastUpdated       time.Time     `json:"last_updated"`
}
