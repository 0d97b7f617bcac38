//go:build windows

package backend

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/models"
)

// conptyBackend runs sessions behind a Windows pseudo console. ConPTY only
// offers blocking pipe reads, so a per-session reader goroutine adapts them
// to the non-blocking Poll/ReadOutput contract through a bounded buffer.
type conptyBackend struct{}

func newBackend() Backend {
	return &conptyBackend{}
}

// maxBuffered bounds the adapter buffer between the ConPTY output pipe and
// ReadOutput. The reader goroutine stalls when it is full, which pushes
// back-pressure into the console host the same way a full PTY buffer does
// on Unix.
const maxBuffered = 64 * 1024

type conptyHandle struct {
	mu      sync.Mutex
	console windows.Handle
	proc    windows.Handle
	pid     uint32
	inFile  *os.File // our write end of the input pipe
	outFile *os.File // our read end of the output pipe

	buf      []byte
	dataCh   chan struct{} // pulsed when buf gains data
	spaceCh  chan struct{} // pulsed when buf drains
	rows     uint16
	cols     uint16
	exited   bool
	exitCode int
	cleaned  bool
}

func (b *conptyBackend) StartProcess(s *models.TerminalSession) error {
	if s.Rows == 0 || s.Cols == 0 {
		return ErrInvalidSize
	}

	// Pipe pair wiring: we write input to inWrite, ConPTY reads inRead;
	// ConPTY writes output to outWrite, we read outRead.
	var inRead, inWrite, outRead, outWrite windows.Handle
	if err := windows.CreatePipe(&inRead, &inWrite, nil, 0); err != nil {
		return fmt.Errorf("%w: create input pipe: %v", ErrProcessStartFailed, err)
	}
	if err := windows.CreatePipe(&outRead, &outWrite, nil, 0); err != nil {
		closeHandles(inRead, inWrite)
		return fmt.Errorf("%w: create output pipe: %v", ErrProcessStartFailed, err)
	}

	size := windows.Coord{X: int16(s.Cols), Y: int16(s.Rows)}
	var console windows.Handle
	if err := windows.CreatePseudoConsole(size, inRead, outWrite, 0, &console); err != nil {
		closeHandles(inRead, inWrite, outRead, outWrite)
		return fmt.Errorf("%w: create pseudo console: %v", ErrProcessStartFailed, err)
	}
	// ConPTY duplicated its ends; ours close now.
	closeHandles(inRead, outWrite)

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		windows.ClosePseudoConsole(console)
		closeHandles(inWrite, outRead)
		return fmt.Errorf("%w: attribute list: %v", ErrProcessStartFailed, err)
	}
	defer attrs.Delete()

	if err := attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE,
		unsafe.Pointer(console),
		unsafe.Sizeof(console),
	); err != nil {
		windows.ClosePseudoConsole(console)
		closeHandles(inWrite, outRead)
		return fmt.Errorf("%w: bind pseudo console: %v", ErrProcessStartFailed, err)
	}

	cmdline, err := windows.UTF16PtrFromString(composeCommandLine(s.Command, s.Args))
	if err != nil {
		windows.ClosePseudoConsole(console)
		closeHandles(inWrite, outRead)
		return fmt.Errorf("%w: %v", ErrProcessStartFailed, err)
	}
	var dir *uint16
	if s.Cwd != "" {
		if dir, err = windows.UTF16PtrFromString(s.Cwd); err != nil {
			windows.ClosePseudoConsole(console)
			closeHandles(inWrite, outRead)
			return fmt.Errorf("%w: %v", ErrProcessStartFailed, err)
		}
	}

	siEx := &windows.StartupInfoEx{
		ProcThreadAttributeList: attrs.List(),
	}
	siEx.Cb = uint32(unsafe.Sizeof(*siEx))

	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		nil,
		cmdline,
		nil,
		nil,
		false,
		windows.EXTENDED_STARTUPINFO_PRESENT|windows.CREATE_UNICODE_ENVIRONMENT,
		envBlock(s),
		dir,
		&siEx.StartupInfo,
		&pi,
	)
	if err != nil {
		windows.ClosePseudoConsole(console)
		closeHandles(inWrite, outRead)
		return fmt.Errorf("%w: %v", ErrProcessStartFailed, err)
	}
	windows.CloseHandle(pi.Thread)

	h := &conptyHandle{
		console:  console,
		proc:     pi.Process,
		pid:      pi.ProcessId,
		inFile:   os.NewFile(uintptr(inWrite), "|conpty-in"),
		outFile:  os.NewFile(uintptr(outRead), "|conpty-out"),
		dataCh:   make(chan struct{}, 1),
		spaceCh:  make(chan struct{}, 1),
		rows:     s.Rows,
		cols:     s.Cols,
		exitCode: -1,
	}
	s.Handle = h
	s.Metadata["pid"] = strconv.FormatUint(uint64(pi.ProcessId), 10)

	go h.readLoop()

	logger.Debugf("🐚 Started %s (pid %d) under ConPTY for session %s", s.Command, pi.ProcessId, s.ID)
	return nil
}

// readLoop drains the ConPTY output pipe into the bounded adapter buffer.
// It exits when the pipe breaks (console closed) or the handle is cleaned.
func (h *conptyHandle) readLoop() {
	chunk := make([]byte, 4096)
	for {
		n, err := h.outFile.Read(chunk)
		if n > 0 {
			h.mu.Lock()
			for len(h.buf) >= maxBuffered && !h.cleaned {
				h.mu.Unlock()
				select {
				case <-h.spaceCh:
				case <-time.After(50 * time.Millisecond):
				}
				h.mu.Lock()
			}
			if h.cleaned {
				h.mu.Unlock()
				return
			}
			h.buf = append(h.buf, chunk[:n]...)
			h.mu.Unlock()
			pulse(h.dataCh)
		}
		if err != nil {
			return
		}
	}
}

func (b *conptyBackend) ReadOutput(s *models.TerminalSession, maxBytes int) ([]byte, error) {
	h, err := conptyHandleOf(s)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return nil, ErrSessionClosed
	}
	if len(h.buf) == 0 {
		return nil, nil
	}
	n := len(h.buf)
	if n > maxBytes {
		n = maxBytes
	}
	out := make([]byte, n)
	copy(out, h.buf[:n])
	h.buf = h.buf[n:]
	pulse(h.spaceCh)
	return out, nil
}

func (b *conptyBackend) WriteInput(s *models.TerminalSession, data []byte) error {
	h, err := conptyHandleOf(s)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.cleaned {
		h.mu.Unlock()
		return ErrSessionClosed
	}
	in := h.inFile
	h.mu.Unlock()

	if _, err := in.Write(data); err != nil {
		return fmt.Errorf("conpty write: %w", err)
	}
	return nil
}

func (b *conptyBackend) Resize(s *models.TerminalSession, rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return ErrInvalidSize
	}
	h, err := conptyHandleOf(s)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return ErrSessionClosed
	}
	if err := windows.ResizePseudoConsole(h.console, windows.Coord{X: int16(cols), Y: int16(rows)}); err != nil {
		return fmt.Errorf("conpty resize: %w", err)
	}
	h.rows, h.cols = rows, cols
	return nil
}

// Winsize reports the geometry of the last successful resize; ConPTY has no
// query API, so the backend is the source of truth.
func (b *conptyBackend) Winsize(s *models.TerminalSession) (uint16, uint16, error) {
	h, err := conptyHandleOf(s)
	if err != nil {
		return 0, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return 0, 0, ErrSessionClosed
	}
	return h.rows, h.cols, nil
}

func (b *conptyBackend) Poll(s *models.TerminalSession, timeout time.Duration) (bool, error) {
	h, err := conptyHandleOf(s)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	if h.cleaned {
		h.mu.Unlock()
		return false, ErrSessionClosed
	}
	if len(h.buf) > 0 {
		h.mu.Unlock()
		return true, nil
	}
	h.mu.Unlock()

	select {
	case <-h.dataCh:
	case <-time.After(timeout):
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buf) > 0, nil
}

func (b *conptyBackend) IsAlive(s *models.TerminalSession) bool {
	h, err := conptyHandleOf(s)
	if err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.reapLocked()
}

func (b *conptyBackend) ExitCode(s *models.TerminalSession) int {
	h, err := conptyHandleOf(s)
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

func (b *conptyBackend) Cleanup(s *models.TerminalSession) {
	h, err := conptyHandleOf(s)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return
	}
	h.cleaned = true

	if !h.reapLocked() {
		_ = windows.TerminateProcess(h.proc, 1)
		h.reapLocked()
	}

	// Closing the console detaches the conhost; closing our pipe ends
	// unblocks the reader goroutine.
	windows.ClosePseudoConsole(h.console)
	_ = h.inFile.Close()
	_ = h.outFile.Close()
	windows.CloseHandle(h.proc)

	logger.Debugf("🧹 Session %s ConPTY released (pid %d)", s.ID, h.pid)
}

// reapLocked records the exit code once the process has finished.
// Returns true if the process has exited. Caller holds h.mu.
func (h *conptyHandle) reapLocked() bool {
	if h.exited {
		return true
	}
	event, err := windows.WaitForSingleObject(h.proc, 0)
	if err != nil || event == uint32(windows.WAIT_TIMEOUT) {
		return false
	}
	h.exited = true
	var code uint32
	if err := windows.GetExitCodeProcess(h.proc, &code); err == nil {
		h.exitCode = int(code)
	}
	return true
}

func conptyHandleOf(s *models.TerminalSession) (*conptyHandle, error) {
	h, ok := s.Handle.(*conptyHandle)
	if !ok || h == nil {
		return nil, ErrNotStarted
	}
	return h, nil
}

// pulse performs a non-blocking signal send.
func pulse(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeHandles(handles ...windows.Handle) {
	for _, h := range handles {
		if h != 0 {
			windows.CloseHandle(h)
		}
	}
}

// composeCommandLine quotes the command and arguments per Windows rules.
func composeCommandLine(command string, args []string) string {
	return windows.ComposeCommandLine(append([]string{command}, args...))
}

// envBlock builds the CREATE_UNICODE_ENVIRONMENT block: the parent
// environment plus the session's extra variables.
func envBlock(s *models.TerminalSession) *uint16 {
	env := os.Environ()
	env = append(env, fmt.Sprintf("SHELLMUX_SESSION=%s", s.ID))
	for k, v := range s.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var block []uint16
	for _, kv := range env {
		if strings.ContainsRune(kv, 0) {
			continue
		}
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	block = append(block, 0)
	return &block[0]
}
