package domain

import "time"

// Project is one agent workspace plus its conversation thread.
type Project struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	RepoPath           string    `json:"repo_path,omitempty"`
	Status             string    `json:"status"`
	PreferredAgent     string    `json:"preferred_agent"`
	SelectedModel      string    `json:"selected_model,omitempty"`
	OverrideProviderID string    `json:"override_provider_id,omitempty"`
	OverrideAPIKey     string    `json:"-"` // encrypted at rest
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
