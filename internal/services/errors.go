package services

import "errors"

// Sentinel errors for session management.
var (
	// ErrSessionNotFound is returned for any operation on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacityExceeded is returned when the registry is at its configured maximum.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrRegistryClosed is returned when creating sessions on a shut-down registry.
	ErrRegistryClosed = errors.New("registry is closed")
)
