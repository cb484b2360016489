package httpapi

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/domain"
)

// GetMessages returns a conversation's history, oldest to newest, in the
// same envelope shape the websocket delivers.
// GET /api/chat/:project_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	limit := h.config.HistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.store.GetMessages(ctx, projectID, limit)
	if err != nil {
		log.Printf("ERROR: failed to load messages for project %s: %v", projectID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}

	envelopes := make([]domain.Envelope, len(messages))
	for i := range messages {
		envelopes[i] = messages[i].Envelope()
	}

	return c.JSON(http.StatusOK, map[string]any{"messages": envelopes})
}
