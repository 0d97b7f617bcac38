// Package backend hides the platform-specific mechanics of running a process
// behind a pseudoterminal. There are exactly two implementations: Unix
// (fork+PTY with poll-based readiness) and Windows (ConPTY), selected at
// compile time via build tags.
package backend

import (
	"time"

	"github.com/shellmux/shellmux/internal/models"
)

// Backend is the uniform contract the rest of the server programs against.
// Expected failure modes (bad executable, dead process, transient I/O) come
// back as error values; implementations never panic for them.
type Backend interface {
	// StartProcess spawns the session's command attached to a fresh PTY and
	// populates the session's opaque Handle. The session is unusable if an
	// error is returned.
	StartProcess(s *models.TerminalSession) error

	// ReadOutput returns up to maxBytes of pending output without blocking.
	// A nil slice with a nil error means "no data right now", never EOF;
	// process death is reported by IsAlive.
	ReadOutput(s *models.TerminalSession, maxBytes int) ([]byte, error)

	// WriteInput writes data to the process's terminal input.
	WriteInput(s *models.TerminalSession, data []byte) error

	// Resize updates the terminal geometry seen by the process.
	Resize(s *models.TerminalSession, rows, cols uint16) error

	// Winsize reports the current terminal geometry.
	Winsize(s *models.TerminalSession) (rows, cols uint16, err error)

	// Poll reports whether output is ready, waiting at most timeout.
	Poll(s *models.TerminalSession, timeout time.Duration) (bool, error)

	// IsAlive reports whether the child process is still running. It reaps
	// exited children without blocking, so zombies never accumulate.
	IsAlive(s *models.TerminalSession) bool

	// ExitCode returns the process exit code once IsAlive has reported
	// death, or -1 if the process has not exited (or was never reaped).
	ExitCode(s *models.TerminalSession) int

	// Cleanup releases the PTY and terminates the process if needed.
	// It is idempotent: calling it twice, or on an already-dead handle,
	// is harmless.
	Cleanup(s *models.TerminalSession)
}

// New returns the PTY backend for the current platform.
func New() Backend {
	return newBackend()
}
