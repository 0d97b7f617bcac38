package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shellmux/shellmux/internal/models"
	"github.com/shellmux/shellmux/internal/services"
)

// SessionsHandler exposes the REST view of the registry: list, inspect,
// destroy. Interactive traffic stays on the websocket channel.
type SessionsHandler struct {
	registry *services.SessionRegistry
}

func NewSessionsHandler(registry *services.SessionRegistry) *SessionsHandler {
	return &SessionsHandler{registry: registry}
}

// RegisterRoutes registers all session REST routes.
func (h *SessionsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/sessions", h.ListSessions)
	v1.Get("/sessions/closed", h.ListClosedSessions)
	v1.Get("/sessions/:id", h.GetSession)
	v1.Delete("/sessions/:id", h.DestroySession)
}

// ListSessions returns all active sessions.
// @Summary List active sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/sessions [get]
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	ids := h.registry.ListActive()
	infos := make([]models.SessionInfo, 0, len(ids))
	for _, id := range ids {
		session, err := h.registry.Get(id)
		if err != nil {
			continue
		}
		infos = append(infos, sessionInfo(session))
	}
	return c.JSON(fiber.Map{
		"count":    len(infos),
		"sessions": infos,
	})
}

// ListClosedSessions returns recently destroyed sessions and their exit codes.
// @Summary List recently closed sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/sessions/closed [get]
func (h *SessionsHandler) ListClosedSessions(c *fiber.Ctx) error {
	infos := h.registry.History().Recent()
	return c.JSON(fiber.Map{
		"count":    len(infos),
		"sessions": infos,
	})
}

// GetSession returns one session by id. A recently closed id comes back as
// 410 with its final record, so clients can tell "finished" from "never existed".
// @Summary Get session info
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SessionInfo
// @Failure 404 {object} map[string]string
// @Router /v1/sessions/{id} [get]
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	session, err := h.registry.Get(id)
	if err != nil {
		if closed, ok := h.registry.History().Get(id); ok {
			return c.Status(fiber.StatusGone).JSON(closed)
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
			"code":  models.CodeSessionNotFound,
		})
	}
	return c.JSON(sessionInfo(session))
}

// DestroySession tears a session down.
// @Summary Destroy a session
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204 {string} string "No Content"
// @Failure 404 {object} map[string]string
// @Router /v1/sessions/{id} [delete]
func (h *SessionsHandler) DestroySession(c *fiber.Ctx) error {
	if err := h.registry.Destroy(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
			"code":  models.CodeSessionNotFound,
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func sessionInfo(s *models.TerminalSession) models.SessionInfo {
	return models.SessionInfo{
		SessionID:    s.ID,
		Command:      s.Command,
		Rows:         s.Rows,
		Cols:         s.Cols,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		LastActivity: s.LastActive().Format(time.RFC3339),
	}
}
