package models

import "time"

// PotentialConflict is a candidate disagreement reported by a connector
type PotentialConflict struct {
	RecordID        string      `json:"record_id"`
	FieldName       string      `json:"field_name"`
	SourceValue     interface{} `json:"source_value"`
	TargetValue     interface{} `json:"target_value"`
	SourceUpdatedAt *time.Time  `json:"source_updated_at,omitempty"`
	TargetUpdatedAt *time.Time  `json:"target_updated_at,omitempty"`
	AutoResolvable  bool        `json:"auto_resolvable"`
}

// ConflictResolution records how a conflict was settled. Write-once.
type ConflictResolution struct {
	Strategy      ConflictStrategy `json:"strategy"`
	ResolvedValue interface{}      `json:"resolved_value"`
	ResolvedAt    time.Time        `json:"resolved_at"`
	ResolvedBy    string           `json:"resolved_by,omitempty"`
}

// SyncConflict is one field-level disagreement detected during a sync
type SyncConflict struct {
	ID            string              `json:"id"`
	JobID         string              `json:"job_id"`
	IntegrationID string              `json:"integration_id"`
	EntityType    string              `json:"entity_type"`
	RecordID      string              `json:"record_id"`
	FieldName     string              `json:"field_name"`
	SourceValue   interface{}         `json:"source_value"`
	TargetValue   interface{}         `json:"target_value"`
	DetectedAt    time.Time           `json:"detected_at"`
	Resolution    *ConflictResolution `json:"resolution,omitempty"`
}

// Resolved reports whether a resolution has been recorded
func (c *SyncConflict) Resolved() bool {
	return c.Resolution != nil
}
