// Package domain defines the core domain models for the platform.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message types.
const (
	TypeChat            = "chat"
	TypeToolUse         = "tool_use"
	TypeSystem          = "system"
	TypeSessionComplete = "session_complete"
	TypeError           = "error"
	TypeStopped         = "stopped"
	TypeAgentCreated    = "agent_created"
)

// Message is one normalized conversational event. It is constructed by a
// runner or the orchestrator, delivered to every live endpoint of the
// conversation, and persisted. It is never mutated after delivery; the
// orchestrator may attach ModelID/ProviderID before the first consumer
// sees it.
type Message struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Role       string         `json:"role"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ModelID    string         `json:"model_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(projectID, sessionID, role, msgType, content string, metadata map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		SessionID: sessionID,
		Role:      role,
		Type:      msgType,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// Envelope is the outbound wire shape delivered to chat clients.
type Envelope struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// Envelope converts a message to its outbound wire shape.
func (m *Message) Envelope() Envelope {
	return Envelope{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Type:      m.Type,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
	}
}
