package services

import (
	"fmt"
	"strings"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/models"
	"github.com/shellmux/shellmux/internal/recovery"
)

// SessionRegistry is the single source of truth for session existence.
// It owns creation and destruction; everything else holds session ids.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*models.TerminalSession
	pumps    map[string]*OutputPump
	closed   bool

	backend backend.Backend
	router  *Router
	cfg     *config.Config
	history *ClosedSessionHistory
}

func NewSessionRegistry(b backend.Backend, r *Router, cfg *config.Config) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*models.TerminalSession),
		pumps:    make(map[string]*OutputPump),
		backend:  b,
		router:   r,
		cfg:      cfg,
		history:  NewClosedSessionHistory(),
	}
}

// History exposes the record of recently destroyed sessions.
func (r *SessionRegistry) History() *ClosedSessionHistory {
	return r.history
}

// Create validates the request, spawns the process, registers the session,
// and starts its output pump — all inside one critical section, so no reader
// ever observes a half-initialized session.
func (r *SessionRegistry) Create(req models.CreateSessionRequest) (string, error) {
	if req.Rows == 0 || req.Cols == 0 {
		return "", backend.ErrInvalidSize
	}

	command := req.Command
	if command == "" {
		command = r.cfg.DefaultShell
	}
	if command == "" {
		detected, err := backend.DetectShell()
		if err != nil {
			return "", err
		}
		command = detected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return "", fmt.Errorf("%w: %d sessions active", ErrCapacityExceeded, len(r.sessions))
	}

	id := r.newIDLocked()
	session := models.NewTerminalSession(id, command, req.Args, req.Rows, req.Cols)
	session.Cwd = req.Cwd
	session.Env = req.Env

	if err := r.backend.StartProcess(session); err != nil {
		return "", err
	}

	pump := newOutputPump(session, r.backend, r.router, r.cfg.PollTimeout, r.cfg.ReadChunkSize)
	r.sessions[id] = session
	r.pumps[id] = pump

	recovery.SafeGoWithCleanup("pump-"+id, pump.run, func() {
		close(pump.done)
		if pump.deathDetected {
			// Process death tears the session down through the normal path.
			if err := r.Destroy(id); err != nil && err != ErrSessionNotFound {
				logger.Warnf("⚠️ Teardown after process exit failed for %s: %v", id, err)
			}
		}
	})

	logger.Infof("✅ Created session %s: %s (rows=%d cols=%d)", id, command, req.Rows, req.Cols)
	return id, nil
}

// Get returns the session for id.
func (r *SessionRegistry) Get(id string) (*models.TerminalSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ListActive returns the ids of all registered sessions.
func (r *SessionRegistry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Backend exposes the registry's backend for input/resize operations.
func (r *SessionRegistry) Backend() backend.Backend {
	return r.backend
}

// Destroy tears a session down: clear the active flag, join the pump,
// release the backend handle, notify and drop the room, remove the entry —
// in that order, so the pump never observes a removed-but-running state.
// Destroying twice (or a session mid-teardown) is not an error.
func (r *SessionRegistry) Destroy(id string) error {
	r.mu.RLock()
	session, ok := r.sessions[id]
	pump := r.pumps[id]
	r.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	if !session.MarkInactive() {
		// Another caller is already tearing this session down.
		return nil
	}

	if pump != nil {
		select {
		case <-pump.Done():
		case <-time.After(r.cfg.PollTimeout*2 + time.Second):
			logger.Warnf("⚠️ Pump for session %s did not stop in time", id)
		}
	}

	r.backend.Cleanup(session)
	exitCode := r.backend.ExitCode(session)
	r.history.Record(session, exitCode)

	r.router.Emit(id, models.EventSessionClosed, models.SessionClosedPayload{
		SessionID: id,
		ExitCode:  exitCode,
	})
	r.router.DropSession(id)

	r.mu.Lock()
	delete(r.sessions, id)
	delete(r.pumps, id)
	r.mu.Unlock()

	logger.Infof("🧹 Destroyed session %s (exit code %d)", id, exitCode)
	return nil
}

// CloseAll destroys every session and refuses further creates. Used on
// server shutdown so no PTY or child process outlives the server.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, id := range r.ListActive() {
		if err := r.Destroy(id); err != nil && err != ErrSessionNotFound {
			logger.Warnf("⚠️ Failed to destroy session %s on shutdown: %v", id, err)
		}
	}
}

// newIDLocked generates a short unique session token. Caller holds r.mu.
func (r *SessionRegistry) newIDLocked() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, taken := r.sessions[id]; !taken {
			return id
		}
	}
}
