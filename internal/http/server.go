// Package http serves the read-mostly JSON API over the opportunity
// store: health, metrics, ranked listings, and status updates.
package http

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prospect/internal/metrics"
	"prospect/internal/model"
	"prospect/internal/store"
)

type Server struct {
	app    *fiber.App
	store  store.Store
	logger *slog.Logger
}

func NewServer(st store.Store, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{app: app, store: st, logger: logger}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Path(), status)

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	v1 := app.Group("/v1")
	v1.Get("/opportunities/top", s.handleTop)
	v1.Get("/opportunities/status/:status", s.handleByStatus)
	v1.Get("/opportunities/platform/:platform", s.handleByPlatform)
	v1.Get("/opportunities/:key", s.handleGet)
	v1.Post("/opportunities/:key/status", s.handleUpdateStatus)
	v1.Get("/stats", s.handleStats)

	return s
}

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(metrics.Export())
}

func (s *Server) handleTop(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	minScore := c.QueryInt("min_score", 0)

	var exclude []model.Status
	if c.Query("exclude_notified") == "true" {
		exclude = append(exclude, model.StatusNotified)
	}

	records, err := s.store.Top(c.Context(), limit, minScore, exclude)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(fiber.Map{"opportunities": records, "count": len(records)})
}

func (s *Server) handleByStatus(c *fiber.Ctx) error {
	status := model.Status(c.Params("status"))
	if !status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown status " + strconv.Quote(string(status)),
		})
	}
	records, err := s.store.ListByStatus(c.Context(), status, c.QueryInt("limit", 50))
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(fiber.Map{"opportunities": records, "count": len(records)})
}

func (s *Server) handleByPlatform(c *fiber.Ctx) error {
	records, err := s.store.ListByPlatform(c.Context(), c.Params("platform"), c.QueryInt("limit", 50))
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(fiber.Map{"opportunities": records, "count": len(records)})
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	record, err := s.store.GetByNaturalKey(c.Context(), c.Params("key"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(record)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) handleUpdateStatus(c *fiber.Ctx) error {
	var req statusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	err := s.store.UpdateStatus(c.Context(), c.Params("key"), model.Status(req.Status), req.Notes)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return s.internalError(c, err)
	}
	return c.JSON(fiber.Map{"status": req.Status})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.Stats(c.Context())
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) internalError(c *fiber.Ctx, err error) error {
	if s.logger != nil {
		s.logger.Error("handler failed", "path", c.Path(), "error", err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
