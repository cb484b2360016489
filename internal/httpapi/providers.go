package httpapi

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/store"
)

// ProviderRequest is the create/update request body for a provider.
type ProviderRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// providerView is the outbound provider shape. The credential is never
// returned; only a masked hint and a presence flag.
type providerView struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Protocol      string                 `json:"protocol"`
	BaseURL       string                 `json:"base_url,omitempty"`
	IsBuiltin     bool                   `json:"is_builtin"`
	Enabled       bool                   `json:"enabled"`
	HasCredential bool                   `json:"has_credential"`
	MaskedKey     string                 `json:"masked_key,omitempty"`
	Models        []domain.ProviderModel `json:"models"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (h *Handler) toView(p *domain.Provider) providerView {
	models := p.Models
	if models == nil {
		models = []domain.ProviderModel{}
	}
	view := providerView{
		ID:            p.ID,
		Name:          p.Name,
		Protocol:      p.Protocol,
		BaseURL:       p.BaseURL,
		IsBuiltin:     p.IsBuiltin,
		Enabled:       p.Enabled,
		HasCredential: p.APIKey != "",
		Models:        models,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.APIKey != "" {
		view.MaskedKey = crypto.MaskKey(h.cipher.Decrypt(p.APIKey))
	}
	return view
}

// CreateProvider creates a custom provider.
// POST /api/providers
func (h *Handler) CreateProvider(c echo.Context) error {
	ctx := c.Request().Context()

	var req ProviderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	if req.Protocol != domain.ProtocolOpenAI && req.Protocol != domain.ProtocolAgent {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "protocol must be openai or agent"})
	}

	now := time.Now().UTC()
	provider := &domain.Provider{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Protocol:  req.Protocol,
		BaseURL:   req.BaseURL,
		APIKey:    h.cipher.Encrypt(req.APIKey),
		IsBuiltin: false,
		Enabled:   req.Enabled == nil || *req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateProvider(ctx, provider); err != nil {
		log.Printf("ERROR: failed to create provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create provider"})
	}

	return c.JSON(http.StatusCreated, h.toView(provider))
}

// ListProviders lists all providers with their model catalogs.
// GET /api/providers
func (h *Handler) ListProviders(c echo.Context) error {
	ctx := c.Request().Context()

	providers, err := h.store.ListProviders(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list providers: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list providers"})
	}

	views := make([]providerView, len(providers))
	for i := range providers {
		views[i] = h.toView(&providers[i])
	}
	return c.JSON(http.StatusOK, map[string]any{"providers": views})
}

// GetProvider gets a specific provider by ID.
// GET /api/providers/:provider_id
func (h *Handler) GetProvider(c echo.Context) error {
	ctx := c.Request().Context()

	provider, err := h.store.GetProvider(ctx, c.Param("provider_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "provider not found"})
	}
	if err != nil {
		log.Printf("ERROR: failed to load provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load provider"})
	}

	return c.JSON(http.StatusOK, h.toView(provider))
}

// UpdateProvider updates a provider's settings or credential.
// PUT /api/providers/:provider_id
func (h *Handler) UpdateProvider(c echo.Context) error {
	ctx := c.Request().Context()

	provider, err := h.store.GetProvider(ctx, c.Param("provider_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "provider not found"})
	}
	if err != nil {
		log.Printf("ERROR: failed to load provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load provider"})
	}

	var req ProviderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Name != "" && !provider.IsBuiltin {
		provider.Name = req.Name
	}
	if req.BaseURL != "" {
		provider.BaseURL = req.BaseURL
	}
	if req.APIKey != "" {
		provider.APIKey = h.cipher.Encrypt(req.APIKey)
	}
	if req.Enabled != nil {
		provider.Enabled = *req.Enabled
	}
	provider.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateProvider(ctx, provider); err != nil {
		log.Printf("ERROR: failed to update provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update provider"})
	}

	return c.JSON(http.StatusOK, h.toView(provider))
}

// DeleteProvider deletes a custom provider. Builtin providers cannot be
// deleted, only disabled.
// DELETE /api/providers/:provider_id
func (h *Handler) DeleteProvider(c echo.Context) error {
	ctx := c.Request().Context()

	provider, err := h.store.GetProvider(ctx, c.Param("provider_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "provider not found"})
	}
	if err != nil {
		log.Printf("ERROR: failed to load provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load provider"})
	}
	if provider.IsBuiltin {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "builtin providers cannot be deleted"})
	}

	if err := h.store.DeleteProvider(ctx, provider.ID); err != nil {
		log.Printf("ERROR: failed to delete provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete provider"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ModelRequest is the request body for adding a model to a provider.
type ModelRequest struct {
	ModelID     string `json:"model_id"`
	DisplayName string `json:"display_name,omitempty"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// AddProviderModel adds a model to a provider's catalog.
// POST /api/providers/:provider_id/models
func (h *Handler) AddProviderModel(c echo.Context) error {
	ctx := c.Request().Context()
	providerID := c.Param("provider_id")

	if _, err := h.store.GetProvider(ctx, providerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "provider not found"})
		}
		log.Printf("ERROR: failed to load provider: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load provider"})
	}

	var req ModelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ModelID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "model_id is required"})
	}
	if req.DisplayName == "" {
		req.DisplayName = req.ModelID
	}

	model := &domain.ProviderModel{
		ID:          uuid.New().String(),
		ProviderID:  providerID,
		ModelID:     req.ModelID,
		DisplayName: req.DisplayName,
		IsDefault:   req.IsDefault,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.AddProviderModel(ctx, model); err != nil {
		log.Printf("ERROR: failed to add model: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to add model"})
	}
	if req.IsDefault {
		if err := h.store.SetDefaultModel(ctx, providerID, req.ModelID); err != nil {
			log.Printf("WARN: failed to set default model: %v", err)
		}
	}

	return c.JSON(http.StatusCreated, model)
}

// DeleteProviderModel removes a model from a provider's catalog.
// DELETE /api/providers/:provider_id/models/:model_id
func (h *Handler) DeleteProviderModel(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.store.DeleteProviderModel(ctx, c.Param("provider_id"), c.Param("model_id")); err != nil {
		log.Printf("ERROR: failed to delete model: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete model"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// SetDefaultModel marks one model as the provider's default.
// PUT /api/providers/:provider_id/models/:model_id/default
func (h *Handler) SetDefaultModel(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.store.SetDefaultModel(ctx, c.Param("provider_id"), c.Param("model_id")); err != nil {
		log.Printf("ERROR: failed to set default model: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to set default model"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
