// Package httpapi provides REST handlers for projects, providers, agent
// templates and message history.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/agentcfg"
	"github.com/winghv/newhorse/internal/config"
	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store  store.Store
	cipher *crypto.Cipher
	agents *agentcfg.Loader
	config *config.Config
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, cipher *crypto.Cipher, agents *agentcfg.Loader, cfg *config.Config) *Handler {
	return &Handler{
		store:  st,
		cipher: cipher,
		agents: agents,
		config: cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Projects
	e.POST("/api/projects", h.CreateProject)
	e.GET("/api/projects", h.ListProjects)
	e.GET("/api/projects/:project_id", h.GetProject)
	e.PUT("/api/projects/:project_id", h.UpdateProject)
	e.DELETE("/api/projects/:project_id", h.DeleteProject)

	// Conversation history
	e.GET("/api/chat/:project_id/messages", h.GetMessages)

	// Providers
	e.POST("/api/providers", h.CreateProvider)
	e.GET("/api/providers", h.ListProviders)
	e.GET("/api/providers/:provider_id", h.GetProvider)
	e.PUT("/api/providers/:provider_id", h.UpdateProvider)
	e.DELETE("/api/providers/:provider_id", h.DeleteProvider)
	e.POST("/api/providers/:provider_id/models", h.AddProviderModel)
	e.DELETE("/api/providers/:provider_id/models/:model_id", h.DeleteProviderModel)
	e.PUT("/api/providers/:provider_id/models/:model_id/default", h.SetDefaultModel)

	// Agent templates
	e.GET("/api/agents/templates", h.ListTemplates)
	e.GET("/api/agents/templates/:template_id", h.GetTemplate)
	e.DELETE("/api/agents/templates/:template_id", h.DeleteTemplate)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
