package models

// Integration is a configured connection between an organization and an
// external commerce platform
type Integration struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Platform       string            `json:"platform"`
	Name           string            `json:"name"`
	BaseURL        string            `json:"base_url,omitempty"`
	Credentials    map[string]string `json:"-"`
	Settings       map[string]string `json:"settings,omitempty"`
	Active         bool              `json:"active"`
	Timestamps
}
