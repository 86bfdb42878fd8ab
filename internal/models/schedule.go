package models

import "time"

// Frequency is the recurrence of a schedule
type Frequency string

const (
	FrequencyEvery5Min  Frequency = "every_5_min"
	FrequencyEvery15Min Frequency = "every_15_min"
	FrequencyEvery30Min Frequency = "every_30_min"
	FrequencyHourly     Frequency = "hourly"
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
)

// Interval returns the minimum time between two runs. Unknown frequencies
// fall back to hourly.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyEvery5Min:
		return 5 * time.Minute
	case FrequencyEvery15Min:
		return 15 * time.Minute
	case FrequencyEvery30Min:
		return 30 * time.Minute
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// ActiveHours restricts a schedule to a local time window. End before Start
// denotes an overnight window.
type ActiveHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// SyncSchedule defines recurring syncs for one integration
type SyncSchedule struct {
	ID             string       `json:"id"`
	IntegrationID  string       `json:"integration_id"`
	OrganizationID string       `json:"organization_id"`
	CreatedBy      string       `json:"created_by,omitempty"`
	Frequency      Frequency    `json:"frequency"`
	ActiveHours    *ActiveHours `json:"active_hours,omitempty"`
	EntityTypes    []string     `json:"entity_types"`
	SyncMode       SyncMode     `json:"sync_mode"`
	Priority       Priority     `json:"priority"`
	LastRunAt      *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time   `json:"next_run_at,omitempty"`
	Enabled        bool         `json:"enabled"`
}
