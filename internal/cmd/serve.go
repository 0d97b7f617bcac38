package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/server"
)

var (
	servePort          int
	serveMaxSessions   int
	serveIdleTimeout   time.Duration
	serveSweepInterval time.Duration
	serveShell         string
	serveDev           bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shellmux session server",
	Long: `Starts the HTTP/WebSocket server. Sessions are created and driven over
the websocket event channel at /v1/terminal; /v1/sessions offers a REST view
for listing and destroying sessions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from SHELLMUX_PORT or 8787)")
	serveCmd.Flags().IntVar(&serveMaxSessions, "max-sessions", 0, "maximum concurrent sessions")
	serveCmd.Flags().DurationVar(&serveIdleTimeout, "idle-timeout", 0, "destroy sessions idle longer than this")
	serveCmd.Flags().DurationVar(&serveSweepInterval, "sweep-interval", 0, "how often to scan for idle sessions")
	serveCmd.Flags().StringVar(&serveShell, "shell", "", "default command for sessions that omit one")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "development mode: pretty log output, debug level")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Configure(logger.GetLogLevelFromEnv(serveDev), serveDev)

	cfg := config.FromEnv()
	if servePort > 0 {
		cfg.Port = servePort
	}
	if serveMaxSessions > 0 {
		cfg.MaxSessions = serveMaxSessions
	}
	if serveIdleTimeout > 0 {
		cfg.IdleTimeout = serveIdleTimeout
	}
	if serveSweepInterval > 0 {
		cfg.SweepInterval = serveSweepInterval
	}
	if serveShell != "" {
		cfg.DefaultShell = serveShell
	}

	srv := server.New(cfg)

	// Graceful shutdown: destroy every session so no child process leaks.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("🛑 Received %s, shutting down", sig)
		if err := srv.Shutdown(); err != nil {
			logger.Errorf("❌ Shutdown error: %v", err)
		}
	}()

	return srv.Listen(fmt.Sprintf(":%d", cfg.Port))
}
