// Package server assembles the fiber application: backend, registry, router,
// lifecycle manager, and the HTTP/WebSocket handlers wired together.
package server

import (
	"net"

	"github.com/gofiber/fiber/v2"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/handlers"
	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/middleware"
	"github.com/shellmux/shellmux/internal/services"
)

// Server owns the component graph for one shellmux instance.
type Server struct {
	App       *fiber.App
	Registry  *services.SessionRegistry
	Router    *services.Router
	Lifecycle *services.SessionLifecycleManager

	cfg *config.Config
}

// New builds a fully wired server from the configuration.
func New(cfg *config.Config) *Server {
	b := backend.New()
	router := services.NewRouter()
	registry := services.NewSessionRegistry(b, router, cfg)
	lifecycle := services.NewSessionLifecycleManager(registry, cfg.IdleTimeout, cfg.SweepInterval)

	app := fiber.New(fiber.Config{
		AppName:               "shellmux",
		DisableStartupMessage: true,
	})

	// Token auth is active only when SHELLMUX_AUTH_SECRET is set.
	if auth := middleware.NewAuthMiddleware(); auth != nil {
		app.Use(auth.RequireAuth)
		logger.Infof("🔒 Token authentication enabled")
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": registry.Count(),
		})
	})

	v1 := app.Group("/v1")
	handlers.NewTerminalHandler(registry, router, lifecycle).RegisterRoutes(v1)
	handlers.NewSessionsHandler(registry).RegisterRoutes(v1)

	return &Server{
		App:       app,
		Registry:  registry,
		Router:    router,
		Lifecycle: lifecycle,
		cfg:       cfg,
	}
}

// Listen starts the sweeper and serves on addr. Blocks until shutdown.
func (s *Server) Listen(addr string) error {
	s.Lifecycle.Start()
	logger.Infof("🚀 shellmux listening on %s (max sessions: %d)", addr, s.cfg.MaxSessions)
	return s.App.Listen(addr)
}

// Serve starts the sweeper and serves on an existing listener. Used by tests
// to bind an ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	s.Lifecycle.Start()
	return s.App.Listener(ln)
}

// Shutdown stops the sweeper, destroys every session, and closes the
// listener. No PTY or child process survives the server.
func (s *Server) Shutdown() error {
	s.Lifecycle.Stop()
	s.Registry.CloseAll()
	return s.App.Shutdown()
}
