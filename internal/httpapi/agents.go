package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/agentcfg"
)

// ListTemplates lists builtin and user-created agent templates.
// GET /api/agents/templates
func (h *Handler) ListTemplates(c echo.Context) error {
	templates := h.agents.ListTemplates()
	if templates == nil {
		templates = []agentcfg.TemplateInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{"templates": templates})
}

// GetTemplate returns a template's full profile.
// GET /api/agents/templates/:template_id
func (h *Handler) GetTemplate(c echo.Context) error {
	cfg, ok := h.agents.Template(c.Param("template_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
	}
	return c.JSON(http.StatusOK, cfg)
}

// DeleteTemplate deletes a user-created template. Builtin templates are
// never deleted.
// DELETE /api/agents/templates/:template_id
func (h *Handler) DeleteTemplate(c echo.Context) error {
	if !h.agents.DeleteUserTemplate(c.Param("template_id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
