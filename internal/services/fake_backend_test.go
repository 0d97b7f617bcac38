package services

import (
	"sync"
	"time"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/models"
)

// fakeBackend is a scriptable Backend double: tests push output chunks and
// flip liveness instead of spawning real processes.
type fakeBackend struct {
	mu        sync.Mutex
	handles   map[string]*fakeHandle
	failStart bool
}

type fakeHandle struct {
	queue    [][]byte
	alive    bool
	exitCode int
	cleanups int
	inputs   [][]byte
	rows     uint16
	cols     uint16
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handles: make(map[string]*fakeHandle)}
}

func (b *fakeBackend) StartProcess(s *models.TerminalSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failStart {
		return backend.ErrProcessStartFailed
	}
	h := &fakeHandle{alive: true, exitCode: -1, rows: s.Rows, cols: s.Cols}
	b.handles[s.ID] = h
	s.Handle = h
	return nil
}

func (b *fakeBackend) ReadOutput(s *models.TerminalSession, maxBytes int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil || len(h.queue) == 0 {
		return nil, nil
	}
	data := h.queue[0]
	h.queue = h.queue[1:]
	if len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return data, nil
}

func (b *fakeBackend) WriteInput(s *models.TerminalSession, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil {
		return backend.ErrNotStarted
	}
	h.inputs = append(h.inputs, append([]byte(nil), data...))
	return nil
}

func (b *fakeBackend) Resize(s *models.TerminalSession, rows, cols uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil {
		return backend.ErrNotStarted
	}
	h.rows, h.cols = rows, cols
	return nil
}

func (b *fakeBackend) Winsize(s *models.TerminalSession) (uint16, uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil {
		return 0, 0, backend.ErrNotStarted
	}
	return h.rows, h.cols, nil
}

func (b *fakeBackend) Poll(s *models.TerminalSession, timeout time.Duration) (bool, error) {
	b.mu.Lock()
	h := b.handles[s.ID]
	pending := h != nil && len(h.queue) > 0
	b.mu.Unlock()
	if !pending {
		time.Sleep(timeout)
	}
	return pending, nil
}

func (b *fakeBackend) IsAlive(s *models.TerminalSession) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	return h != nil && h.alive
}

func (b *fakeBackend) ExitCode(s *models.TerminalSession) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil || h.alive {
		return -1
	}
	return h.exitCode
}

func (b *fakeBackend) Cleanup(s *models.TerminalSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handles[s.ID]
	if h == nil {
		return
	}
	h.cleanups++
	if h.alive {
		h.alive = false
		h.exitCode = 137
	}
}

// pushOutput queues a chunk the pump will pick up.
func (b *fakeBackend) pushOutput(sessionID string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.handles[sessionID]; h != nil {
		h.queue = append(h.queue, data)
	}
}

// kill marks the process dead with the given exit code.
func (b *fakeBackend) kill(sessionID string, exitCode int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.handles[sessionID]; h != nil {
		h.alive = false
		h.exitCode = exitCode
	}
}

func (b *fakeBackend) cleanupCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.handles[sessionID]; h != nil {
		return h.cleanups
	}
	return 0
}

// testConfig keeps pump polling fast so tests settle quickly.
func testConfig(maxSessions int) *config.Config {
	return &config.Config{
		MaxSessions:   maxSessions,
		IdleTimeout:   config.DefaultIdleTimeout,
		SweepInterval: config.DefaultSweepInterval,
		PollTimeout:   2 * time.Millisecond,
		ReadChunkSize: 4096,
		DefaultShell:  "/bin/fakesh",
	}
}
