package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// TerminalSession describes one PTY-backed shell process hosted by the server.
//
// The registry is the single owner of the session collection; the Handle field
// is owned exclusively by the backend that started the process and is opaque
// to everything else.
type TerminalSession struct {
	ID        string            `json:"session_id"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Rows      uint16            `json:"rows"`
	Cols      uint16            `json:"cols"`
	CreatedAt time.Time         `json:"created_at"`

	// Metadata carries backend-specific extras (e.g. pty path, pid).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Handle is the backend's private process state. Never touched outside
	// the backend implementation that populated it.
	Handle any `json:"-"`

	active       atomic.Bool
	activityMu   sync.Mutex
	lastActivity time.Time
}

// NewTerminalSession builds a session record with activity timestamps
// initialized to now. The caller assigns the ID.
func NewTerminalSession(id, command string, args []string, rows, cols uint16) *TerminalSession {
	now := time.Now()
	s := &TerminalSession{
		ID:           id,
		Command:      command,
		Args:         args,
		Rows:         rows,
		Cols:         cols,
		CreatedAt:    now,
		Metadata:     make(map[string]string),
		lastActivity: now,
	}
	s.active.Store(true)
	return s
}

// Active reports whether the session is live. The pump loops on this flag;
// Destroy clears it to signal the pump to exit.
func (s *TerminalSession) Active() bool {
	return s.active.Load()
}

// MarkInactive clears the active flag. Returns false if it was already clear,
// which makes teardown idempotent.
func (s *TerminalSession) MarkInactive() bool {
	return s.active.CompareAndSwap(true, false)
}

// Touch records activity (input, output, or heartbeat) at the current time.
func (s *TerminalSession) Touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

// SetLastActivity overrides the activity timestamp. Used by tests and the
// sweeper's age calculations.
func (s *TerminalSession) SetLastActivity(t time.Time) {
	s.activityMu.Lock()
	s.lastActivity = t
	s.activityMu.Unlock()
}

// LastActive returns the time of the most recent activity.
func (s *TerminalSession) LastActive() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActivity
}

// SetSize records the current terminal geometry after a successful resize.
func (s *TerminalSession) SetSize(rows, cols uint16) {
	s.activityMu.Lock()
	s.Rows = rows
	s.Cols = cols
	s.activityMu.Unlock()
}
