// Package admin serves the agent's loopback introspection API: liveness
// and readiness probes, a status snapshot, and Prometheus metrics. It
// binds 127.0.0.1 only and carries no auth.
package admin

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/relay"
)

// SnapshotFunc reports the supervisor's current state.
type SnapshotFunc func() relay.Snapshot

// Server is the loopback admin Fiber application.
type Server struct {
	app      *fiber.App
	port     int
	snapshot SnapshotFunc
	logger   zerolog.Logger
}

func NewServer(port int, snapshot SnapshotFunc, m *metrics.Metrics, version string, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:      app,
		port:     port,
		snapshot: snapshot,
		logger:   logger.With().Str("component", "admin").Logger(),
	}

	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version})
	})
	app.Get("/readyz", s.readiness)
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(s.snapshot())
	})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	return s
}

// readiness is 200 only while the supervisor runs with a connected plugin.
func (s *Server) readiness(c *fiber.Ctx) error {
	snap := s.snapshot()
	if !snap.Running || snap.PluginStatus != channel.StatusConnected {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ready":        false,
			"running":      snap.Running,
			"pluginStatus": snap.PluginStatus.String(),
		})
	}
	return c.JSON(fiber.Map{"ready": true})
}

// Start blocks serving on the loopback interface until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.logger.Info().Str("addr", addr).Msg("Admin endpoint listening")
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
