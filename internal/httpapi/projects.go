package httpapi

import (
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/store"
)

// ProjectRequest is the create/update request body for a project.
type ProjectRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	PreferredAgent     string `json:"preferred_agent,omitempty"`
	SelectedModel      string `json:"selected_model,omitempty"`
	OverrideProviderID string `json:"override_provider_id,omitempty"`
	OverrideAPIKey     string `json:"override_api_key,omitempty"`
	TemplateID         string `json:"template_id,omitempty"`
}

// CreateProject creates a project and materializes its workspace.
// POST /api/projects
func (h *Handler) CreateProject(c echo.Context) error {
	ctx := c.Request().Context()

	var req ProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	id := uuid.New().String()[:8]
	repoPath := filepath.Join(h.config.ProjectsRoot, id)
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		log.Printf("ERROR: failed to create workspace %s: %v", repoPath, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create workspace"})
	}

	if req.TemplateID != "" {
		if tpl, ok := h.agents.Template(req.TemplateID); ok {
			if err := h.agents.SaveProjectConfig(repoPath, tpl); err != nil {
				log.Printf("WARN: failed to seed workspace from template %s: %v", req.TemplateID, err)
			}
			if req.SelectedModel == "" {
				req.SelectedModel = tpl.Model
			}
		} else {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
		}
	}

	preferredAgent := req.PreferredAgent
	if preferredAgent == "" {
		preferredAgent = "hello"
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:                 id,
		Name:               req.Name,
		Description:        req.Description,
		RepoPath:           repoPath,
		Status:             "active",
		PreferredAgent:     preferredAgent,
		SelectedModel:      req.SelectedModel,
		OverrideProviderID: req.OverrideProviderID,
		OverrideAPIKey:     h.cipher.Encrypt(req.OverrideAPIKey),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.store.CreateProject(ctx, project); err != nil {
		log.Printf("ERROR: failed to create project: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create project"})
	}

	return c.JSON(http.StatusCreated, project)
}

// ListProjects lists all projects.
// GET /api/projects
func (h *Handler) ListProjects(c echo.Context) error {
	ctx := c.Request().Context()

	projects, err := h.store.ListProjects(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list projects: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list projects"})
	}

	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

// GetProject gets a specific project by ID.
// GET /api/projects/:project_id
func (h *Handler) GetProject(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	project, err := h.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "project not found"})
	}
	if err != nil {
		log.Printf("ERROR: failed to load project %s: %v", projectID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load project"})
	}

	return c.JSON(http.StatusOK, project)
}

// UpdateProject updates a project's settings.
// PUT /api/projects/:project_id
func (h *Handler) UpdateProject(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	project, err := h.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "project not found"})
	}
	if err != nil {
		log.Printf("ERROR: failed to load project %s: %v", projectID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load project"})
	}

	var req ProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Description != "" {
		project.Description = req.Description
	}
	if req.PreferredAgent != "" {
		project.PreferredAgent = req.PreferredAgent
	}
	if req.SelectedModel != "" {
		project.SelectedModel = req.SelectedModel
	}
	if req.OverrideProviderID != "" {
		project.OverrideProviderID = req.OverrideProviderID
	}
	if req.OverrideAPIKey != "" {
		project.OverrideAPIKey = h.cipher.Encrypt(req.OverrideAPIKey)
	}
	project.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateProject(ctx, project); err != nil {
		log.Printf("ERROR: failed to update project: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update project"})
	}

	return c.JSON(http.StatusOK, project)
}

// DeleteProject deletes a project record. The workspace directory is kept
// on disk.
// DELETE /api/projects/:project_id
func (h *Handler) DeleteProject(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	if err := h.store.DeleteProject(ctx, projectID); err != nil {
		log.Printf("ERROR: failed to delete project: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete project"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
