//go:build !windows

package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/models"
)

// unixBackend runs sessions behind a classic fork+PTY pair. Readiness is
// checked with poll(2) on the master fd, so reads never block the pump.
type unixBackend struct{}

func newBackend() Backend {
	return &unixBackend{}
}

// unixHandle is the backend-private process state stored in the session's
// opaque Handle field.
type unixHandle struct {
	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	exited   bool
	exitCode int
	cleaned  bool
}

func (b *unixBackend) StartProcess(s *models.TerminalSession) error {
	if s.Rows == 0 || s.Cols == 0 {
		return ErrInvalidSize
	}

	cmd := exec.Command(s.Command, s.Args...)
	if s.Cwd != "" {
		cmd.Dir = s.Cwd
	}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SHELLMUX_SESSION=%s", s.ID),
		"TERM=xterm-256color",
	)
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: s.Rows, Cols: s.Cols})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProcessStartFailed, err)
	}

	s.Handle = &unixHandle{
		ptmx:     ptmx,
		cmd:      cmd,
		exitCode: -1,
	}
	s.Metadata["pid"] = strconv.Itoa(cmd.Process.Pid)
	s.Metadata["pty"] = ptmx.Name()

	logger.Debugf("🐚 Started %s (pid %d) on %s for session %s", s.Command, cmd.Process.Pid, ptmx.Name(), s.ID)
	return nil
}

func (b *unixBackend) ReadOutput(s *models.TerminalSession, maxBytes int) ([]byte, error) {
	h, err := handleOf(s)
	if err != nil {
		return nil, err
	}
	ptmx, err := h.master()
	if err != nil {
		return nil, err
	}

	// Only read when poll says data is pending, so the read itself can't block.
	ready, err := pollFd(ptmx, 0)
	if err != nil || !ready {
		return nil, err
	}

	buf := make([]byte, maxBytes)
	n, err := ptmx.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil && !isPtyClosed(err) {
		return nil, fmt.Errorf("pty read: %w", err)
	}
	// EOF / EIO from the master means the child side is gone; the caller
	// confirms death through IsAlive.
	return nil, nil
}

func (b *unixBackend) WriteInput(s *models.TerminalSession, data []byte) error {
	h, err := handleOf(s)
	if err != nil {
		return err
	}
	ptmx, err := h.master()
	if err != nil {
		return err
	}
	if _, err := ptmx.Write(data); err != nil {
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

func (b *unixBackend) Resize(s *models.TerminalSession, rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return ErrInvalidSize
	}
	h, err := handleOf(s)
	if err != nil {
		return err
	}
	ptmx, err := h.master()
	if err != nil {
		return err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	return nil
}

func (b *unixBackend) Winsize(s *models.TerminalSession) (uint16, uint16, error) {
	h, err := handleOf(s)
	if err != nil {
		return 0, 0, err
	}
	ptmx, err := h.master()
	if err != nil {
		return 0, 0, err
	}
	ws, err := pty.GetsizeFull(ptmx)
	if err != nil {
		return 0, 0, fmt.Errorf("pty getsize: %w", err)
	}
	return ws.Rows, ws.Cols, nil
}

func (b *unixBackend) Poll(s *models.TerminalSession, timeout time.Duration) (bool, error) {
	h, err := handleOf(s)
	if err != nil {
		return false, err
	}
	ptmx, err := h.master()
	if err != nil {
		return false, err
	}
	return pollFd(ptmx, timeout)
}

func (b *unixBackend) IsAlive(s *models.TerminalSession) bool {
	h, err := handleOf(s)
	if err != nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.reapLocked()
}

func (b *unixBackend) ExitCode(s *models.TerminalSession) int {
	h, err := handleOf(s)
	if err != nil {
		return -1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return -1
	}
	return h.exitCode
}

func (b *unixBackend) Cleanup(s *models.TerminalSession) {
	h, err := handleOf(s)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return
	}
	h.cleaned = true

	if h.ptmx != nil {
		_ = h.ptmx.Close()
	}

	if h.reapLocked() {
		logger.Debugf("🧹 Session %s already exited (code %d)", s.ID, h.exitCode)
		return
	}

	// Ask nicely first, then force. The grace window keeps cleanup bounded.
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	if h.waitExitLocked(200 * time.Millisecond) {
		return
	}
	_ = h.cmd.Process.Kill()
	if !h.waitExitLocked(time.Second) {
		logger.Warnf("⚠️ Session %s: process %d did not exit after SIGKILL", s.ID, h.cmd.Process.Pid)
	}
}

// master returns the PTY master, or an error once the handle is cleaned up.
func (h *unixHandle) master() (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned || h.ptmx == nil {
		return nil, ErrSessionClosed
	}
	return h.ptmx, nil
}

// reapLocked reaps the child with WNOHANG and records its exit code.
// Returns true once the child has exited. Caller holds h.mu.
func (h *unixHandle) reapLocked() bool {
	if h.exited {
		return true
	}

	var ws unix.WaitStatus
	pid, err := unix.Wait4(h.cmd.Process.Pid, &ws, unix.WNOHANG, nil)
	switch {
	case err != nil:
		if errors.Is(err, unix.ECHILD) {
			// Reaped elsewhere; nothing more to learn.
			h.exited = true
		}
	case pid == h.cmd.Process.Pid:
		h.exited = true
		if ws.Exited() {
			h.exitCode = ws.ExitStatus()
		} else if ws.Signaled() {
			h.exitCode = 128 + int(ws.Signal())
		}
	}
	return h.exited
}

// waitExitLocked polls for exit until the deadline. Caller holds h.mu.
func (h *unixHandle) waitExitLocked(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if h.reapLocked() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return h.reapLocked()
}

func handleOf(s *models.TerminalSession) (*unixHandle, error) {
	h, ok := s.Handle.(*unixHandle)
	if !ok || h == nil {
		return nil, ErrNotStarted
	}
	return h, nil
}

// pollFd waits up to timeout for the master fd to become readable.
func pollFd(ptmx *os.File, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(ptmx.Fd()), Events: unix.POLLIN}}
	deadline := time.Now().Add(timeout)
	for {
		ms := int(time.Until(deadline).Milliseconds())
		if ms < 0 {
			ms = 0
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		// POLLHUP counts as readable: a final read drains buffered output
		// and surfaces the closed-pty condition.
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0, nil
	}
}

// isPtyClosed recognizes the errors a PTY master returns once the child
// side has gone away.
func isPtyClosed(err error) bool {
	return err == io.EOF ||
		errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, os.ErrClosed)
}
