package domain

import "time"

// Provider protocols.
const (
	ProtocolOpenAI = "openai"
	ProtocolAgent  = "agent"
)

// Provider is a configured model backend (e.g. Anthropic, OpenAI, Deepseek).
type Provider struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Protocol  string          `json:"protocol"`
	BaseURL   string          `json:"base_url,omitempty"` // empty = backend default
	APIKey    string          `json:"-"`                  // encrypted at rest, never serialized
	IsBuiltin bool            `json:"is_builtin"`
	Enabled   bool            `json:"enabled"`
	Models    []ProviderModel `json:"models,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProviderModel is one model available from a provider.
type ProviderModel struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	ModelID     string    `json:"model_id"`
	DisplayName string    `json:"display_name"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResolvedRoute is the ephemeral result of provider resolution: which
// provider, model and credential drive one turn. It is created per
// instruction, consumed immediately and never cached. APIKey is the
// decrypted credential and must not be persisted or logged.
type ResolvedRoute struct {
	ProviderID   string
	ProviderName string
	Protocol     string
	BaseURL      string
	APIKey       string
	ModelID      string
}
