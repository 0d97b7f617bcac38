package services

import (
	"sync"
	"time"

	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/recovery"
)

// SessionLifecycleManager reclaims abandoned sessions. Clients heartbeat to
// stay alive; a periodic sweep destroys any session idle past the timeout,
// regardless of whether connections are still joined to its room.
type SessionLifecycleManager struct {
	registry *SessionRegistry

	idleTimeout   time.Duration
	sweepInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSessionLifecycleManager(registry *SessionRegistry, idleTimeout, sweepInterval time.Duration) *SessionLifecycleManager {
	return &SessionLifecycleManager{
		registry:      registry,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Heartbeat records client liveness for a session.
func (m *SessionLifecycleManager) Heartbeat(sessionID string) error {
	session, err := m.registry.Get(sessionID)
	if err != nil {
		return err
	}
	session.Touch()
	return nil
}

// Start launches the background sweeper.
func (m *SessionLifecycleManager) Start() {
	recovery.SafeGo("lifecycle-sweeper", func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stopCh:
				return
			}
		}
	})
}

// Stop halts the sweeper. Safe to call more than once.
func (m *SessionLifecycleManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// Sweep destroys every session whose last activity is older than the idle
// timeout. Exported so tests can drive it directly.
func (m *SessionLifecycleManager) Sweep() {
	for _, id := range m.registry.ListActive() {
		session, err := m.registry.Get(id)
		if err != nil {
			continue
		}
		idle := time.Since(session.LastActive())
		if idle < m.idleTimeout {
			continue
		}
		logger.Infof("⏰ Session %s idle for %s, destroying", id, idle.Round(time.Second))
		if err := m.registry.Destroy(id); err != nil && err != ErrSessionNotFound {
			logger.Warnf("⚠️ Failed to destroy idle session %s: %v", id, err)
		}
	}
}
