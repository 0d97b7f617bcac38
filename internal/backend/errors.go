package backend

import "errors"

// Sentinel errors for the backend package.
var (
	// ErrProcessStartFailed is returned when the command cannot be spawned.
	ErrProcessStartFailed = errors.New("failed to start process")

	// ErrNotStarted is returned for operations on a session whose process
	// was never started or whose handle belongs to a different backend.
	ErrNotStarted = errors.New("session has no backend handle")

	// ErrSessionClosed is returned when operating on a cleaned-up handle.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidSize is returned when rows or cols are zero.
	ErrInvalidSize = errors.New("invalid terminal size")

	// ErrShellNotFound is returned when no usable shell can be detected.
	ErrShellNotFound = errors.New("no shell found")
)
