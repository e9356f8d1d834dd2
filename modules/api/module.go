// Package api serves the collaboration layer over HTTP: the /ws websocket
// endpoint, the long-poll fallback transport and read-only REST views.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/collab-realtime/config"
	"github.com/example/collab-realtime/modules/session"
)

// Module implements the HTTP and WebSocket server module using Fiber.
type Module struct {
	app          *fiber.App
	handlers     *Handlers
	cfg          *config.Config
	collabModule *session.Module
	alerts       AlertSource
	checks       []HealthChecker
	startTime    time.Time
	logger       types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the API module. checks are reported by GET /health next
// to the collab module itself.
func NewModule(cfg *config.Config, collabModule *session.Module, alerts AlertSource, moduleLogger types.Logger, checks ...HealthChecker) *Module {
	return &Module{
		cfg:          cfg,
		collabModule: collabModule,
		alerts:       alerts,
		checks:       append([]HealthChecker{collabModule}, checks...),
		logger:       moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "api"
}

// Start builds the Fiber app and starts listening.
func (m *Module) Start(_ context.Context) error {
	m.handlers = NewHandlers(
		m.collabModule.Service(),
		m.collabModule.History(),
		m.alerts,
		ConnectionOptions{
			QueueSize:    m.cfg.SendQueueSize,
			PingInterval: m.cfg.PingInterval,
			HistoryLimit: m.cfg.HistoryLimit,
		},
		m.logger,
		m.checks...,
	)
	m.app = NewApp(m.handlers, m.cfg.CORSAllowedOrigins, m.logger)

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(m.cfg.Addr()); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.startTime = time.Now()
	m.logger.Info("HTTP server started", "addr", m.cfg.Addr())
	return nil
}

// Stop gracefully shuts down the server.
func (m *Module) Stop(ctx context.Context) error {
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// Health reports whether the server is listening.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.startTime.IsZero() {
		return mono.HealthStatus{
			Healthy: false,
			Message: "not started",
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"uptime": time.Since(m.startTime).Round(time.Second).String(),
		},
	}
}

// NewApp creates the Fiber app with middleware and routes.
func NewApp(h *Handlers, allowedOrigins string, moduleLogger types.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Collab Realtime",
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          errorHandler(moduleLogger),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	registerRoutes(app, h)
	return app
}

// registerRoutes sets up all HTTP and WebSocket routes.
func registerRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", h.HealthCheck)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.HandleWebSocket))

	api := app.Group("/api/v1")
	api.Get("/rooms", h.ListRooms)
	api.Get("/rooms/:type/:resourceId/members", h.GetMembers)
	api.Get("/rooms/:type/:resourceId/history", h.GetHistory)
	api.Get("/rooms/:type/:resourceId/snapshot", h.GetSnapshot)
	api.Put("/rooms/:type/:resourceId/snapshot", h.PutSnapshot)
	api.Get("/alerts", h.ListAlerts)

	poll := api.Group("/poll")
	poll.Post("/connect", h.PollConnect)
	poll.Get("/:connectionId", h.Poll)
	poll.Post("/:connectionId", h.PollSend)
	poll.Delete("/:connectionId", h.PollClose)
}

// errorHandler handles errors globally.
func errorHandler(moduleLogger types.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			moduleLogger.Error("HTTP error", "code", code, "message", message, "error", err)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
