package models

import "encoding/json"

// Wire event names. The six client events plus the server-side notices form
// the fixed protocol contract; everything else about the transport (framing,
// handshake) is fiber/websocket plumbing.
const (
	EventCreateSession = "create_session"
	EventConnect       = "connect"
	EventPTYInput      = "pty-input"
	EventResize        = "resize"
	EventHeartbeat     = "heartbeat"
	EventPTYOutput     = "pty-output"
	EventSessionClosed = "session_closed"
	EventError         = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeSessionNotFound  = "session_not_found"
	CodeCapacityExceeded = "capacity_exceeded"
	CodeProcessStart     = "process_start_failure"
	CodeBadRequest       = "bad_request"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateSessionRequest is the create_session payload.
type CreateSessionRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Rows    uint16            `json:"rows"`
	Cols    uint16            `json:"cols"`
}

// CreateSessionResponse answers create_session with either a session id or
// a structured error, never both.
type CreateSessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ConnectRequest is the connect payload; the connection joins the session's room.
type ConnectRequest struct {
	SessionID string `json:"session_id"`
}

// InputRequest is the pty-input payload. Fire and forget.
type InputRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// ResizeRequest is the resize payload.
type ResizeRequest struct {
	SessionID string `json:"session_id"`
	Rows      uint16 `json:"rows"`
	Cols      uint16 `json:"cols"`
}

// HeartbeatRequest is the heartbeat payload. Updates last_activity; no response.
type HeartbeatRequest struct {
	SessionID string `json:"session_id"`
}

// OutputPayload is the pty-output payload, delivered only to room members.
type OutputPayload struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// SessionClosedPayload is the terminal session_closed notice.
type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// ErrorPayload is the structured error shape for protocol-level failures.
type ErrorPayload struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
}

// ClosedSessionInfo is the REST record of a recently destroyed session.
type ClosedSessionInfo struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	ExitCode  int    `json:"exit_code"`
	CreatedAt string `json:"created_at"`
	ClosedAt  string `json:"closed_at"`
}

// SessionInfo is the REST representation of an active session.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	Command      string `json:"command"`
	Rows         uint16 `json:"rows"`
	Cols         uint16 `json:"cols"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
}
