package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server runtime configuration. Values come from the
// environment with sensible defaults; command-line flags override both.
type Config struct {
	// Port is the TCP port the HTTP/WebSocket server listens on.
	Port int

	// MaxSessions caps the number of concurrently active sessions.
	MaxSessions int

	// IdleTimeout is how long a session may go without activity (input,
	// output, or heartbeat) before the sweeper destroys it.
	IdleTimeout time.Duration

	// SweepInterval is how often the lifecycle manager scans for idle sessions.
	SweepInterval time.Duration

	// PollTimeout bounds each backend poll. It is the pump's only blocking
	// point, so it also bounds how quickly a destroyed session's pump exits.
	PollTimeout time.Duration

	// ReadChunkSize is the maximum number of bytes a pump reads per iteration.
	ReadChunkSize int

	// DefaultShell is the command used when create_session omits one.
	// Empty means autodetect.
	DefaultShell string
}

// Default configuration values.
const (
	DefaultPort          = 8787
	DefaultMaxSessions   = 32
	DefaultIdleTimeout   = 3600 * time.Second
	DefaultSweepInterval = 60 * time.Second
	DefaultPollTimeout   = 10 * time.Millisecond
	DefaultReadChunkSize = 4096
)

// FromEnv builds a Config from SHELLMUX_* environment variables,
// falling back to defaults for anything unset or unparseable.
func FromEnv() *Config {
	return &Config{
		Port:          envInt("SHELLMUX_PORT", DefaultPort),
		MaxSessions:   envInt("SHELLMUX_MAX_SESSIONS", DefaultMaxSessions),
		IdleTimeout:   envDuration("SHELLMUX_IDLE_TIMEOUT", DefaultIdleTimeout),
		SweepInterval: envDuration("SHELLMUX_SWEEP_INTERVAL", DefaultSweepInterval),
		PollTimeout:   envDuration("SHELLMUX_POLL_TIMEOUT", DefaultPollTimeout),
		ReadChunkSize: envInt("SHELLMUX_READ_CHUNK", DefaultReadChunkSize),
		DefaultShell:  os.Getenv("SHELLMUX_SHELL"),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	// Accept both Go duration strings ("90s") and bare seconds ("90")
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
