package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/models"
	"github.com/shellmux/shellmux/internal/services"
)

// TerminalHandler translates the wire events into registry, backend, and
// router operations. One websocket connection can drive any number of
// sessions; output only reaches it for sessions it has connected to.
type TerminalHandler struct {
	registry  *services.SessionRegistry
	router    *services.Router
	lifecycle *services.SessionLifecycleManager
}

func NewTerminalHandler(registry *services.SessionRegistry, router *services.Router, lifecycle *services.SessionLifecycleManager) *TerminalHandler {
	return &TerminalHandler{
		registry:  registry,
		router:    router,
		lifecycle: lifecycle,
	}
}

// RegisterRoutes registers the websocket event endpoint.
func (h *TerminalHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/terminal", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs the event loop.
// @Summary Terminal event channel
// @Description WebSocket endpoint carrying the session event protocol
// @Tags terminal
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/terminal [get]
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn)
	})(c)
}

func (h *TerminalHandler) handleConnection(conn *websocket.Conn) {
	client := newWSClient(conn)
	logger.Infof("📡 New terminal connection [%s] from %s", client.connID, conn.RemoteAddr())

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("🚨 PANIC recovered in terminal connection handler: %v", r)
		}
		h.router.LeaveAll(client)
		_ = conn.Close()
		logger.Infof("🔌 Terminal connection [%s] closed", client.connID)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.sendError(client, "", "malformed message", models.CodeBadRequest)
			continue
		}

		h.dispatch(client, env)
	}
}

func (h *TerminalHandler) dispatch(client *wsClient, env models.Envelope) {
	switch env.Event {
	case models.EventCreateSession:
		h.handleCreate(client, env.Payload)
	case models.EventConnect:
		h.handleConnect(client, env.Payload)
	case models.EventPTYInput:
		h.handleInput(client, env.Payload)
	case models.EventResize:
		h.handleResize(client, env.Payload)
	case models.EventHeartbeat:
		h.handleHeartbeat(client, env.Payload)
	default:
		h.sendError(client, "", "unknown event: "+env.Event, models.CodeBadRequest)
	}
}

// handleCreate answers on the same socket with either a session id or a
// structured error, never silence.
func (h *TerminalHandler) handleCreate(client *wsClient, payload json.RawMessage) {
	var req models.CreateSessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reply(client, models.EventCreateSession, models.CreateSessionResponse{
			Error: "malformed create_session payload",
			Code:  models.CodeBadRequest,
		})
		return
	}

	id, err := h.registry.Create(req)
	if err != nil {
		logger.Warnf("❌ create_session failed: %v", err)
		h.reply(client, models.EventCreateSession, models.CreateSessionResponse{
			Error: err.Error(),
			Code:  createErrorCode(err),
		})
		return
	}

	h.reply(client, models.EventCreateSession, models.CreateSessionResponse{SessionID: id})
}

func (h *TerminalHandler) handleConnect(client *wsClient, payload json.RawMessage) {
	var req models.ConnectRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		h.sendError(client, "", "malformed connect payload", models.CodeBadRequest)
		return
	}
	if _, err := h.registry.Get(req.SessionID); err != nil {
		h.sendError(client, req.SessionID, "unknown session", models.CodeSessionNotFound)
		return
	}
	h.router.Join(client, req.SessionID)
}

func (h *TerminalHandler) handleInput(client *wsClient, payload json.RawMessage) {
	var req models.InputRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		h.sendError(client, "", "malformed pty-input payload", models.CodeBadRequest)
		return
	}

	session, err := h.registry.Get(req.SessionID)
	if err != nil {
		h.sendError(client, req.SessionID, "unknown session", models.CodeSessionNotFound)
		return
	}

	if err := h.registry.Backend().WriteInput(session, []byte(req.Input)); err != nil {
		logger.Debugf("❌ Input write failed for session %s: %v", req.SessionID, err)
		return
	}
	session.Touch()
}

func (h *TerminalHandler) handleResize(client *wsClient, payload json.RawMessage) {
	var req models.ResizeRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		h.sendError(client, "", "malformed resize payload", models.CodeBadRequest)
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		h.sendError(client, req.SessionID, "rows and cols must be positive", models.CodeBadRequest)
		return
	}

	session, err := h.registry.Get(req.SessionID)
	if err != nil {
		h.sendError(client, req.SessionID, "unknown session", models.CodeSessionNotFound)
		return
	}

	if err := h.registry.Backend().Resize(session, req.Rows, req.Cols); err != nil {
		logger.Debugf("❌ Resize failed for session %s: %v", req.SessionID, err)
		return
	}
	session.SetSize(req.Rows, req.Cols)
	session.Touch()
	logger.Debugf("📐 Resized session %s to %dx%d", req.SessionID, req.Rows, req.Cols)
}

func (h *TerminalHandler) handleHeartbeat(client *wsClient, payload json.RawMessage) {
	var req models.HeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		h.sendError(client, "", "malformed heartbeat payload", models.CodeBadRequest)
		return
	}
	if err := h.lifecycle.Heartbeat(req.SessionID); err != nil {
		h.sendError(client, req.SessionID, "unknown session", models.CodeSessionNotFound)
	}
}

func (h *TerminalHandler) reply(client *wsClient, event string, payload any) {
	if err := client.SendEvent(event, payload); err != nil {
		logger.Debugf("❌ Reply to [%s] failed: %v", client.connID, err)
	}
}

func (h *TerminalHandler) sendError(client *wsClient, sessionID, msg, code string) {
	h.reply(client, models.EventError, models.ErrorPayload{
		Error:     msg,
		Code:      code,
		SessionID: sessionID,
	})
}

// createErrorCode maps a Create failure to its wire error code.
func createErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrCapacityExceeded):
		return models.CodeCapacityExceeded
	case errors.Is(err, backend.ErrInvalidSize):
		return models.CodeBadRequest
	default:
		return models.CodeProcessStart
	}
}
