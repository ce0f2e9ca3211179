// Package api is the HTTP control surface: configuration, sinks, recording
// sessions and SlimeVR tracker profiles.
package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/configstore"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/recorder"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

// Pipeline is the reconfiguration surface of the ingestion server.
type Pipeline interface {
	UpdateConfig() error
	UpdateSinks([]sink.Descriptor) error
}

// Sessions controls recording. *recorder.Recorder satisfies it.
type Sessions interface {
	Start() (string, error)
	Stop() error
	Status() recorder.Status
	List() ([]recorder.SessionFile, error)
}

var errBadRequest = errors.New("api: bad request")

// API holds the handler dependencies.
type API struct {
	store    *configstore.Store
	pipeline Pipeline
	sessions Sessions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates the handler set. A nil logger uses the package default.
func New(store *configstore.Store, pipeline Pipeline, sessions Sessions, m *metrics.Metrics, logger *slog.Logger) *API {
	if logger == nil {
		logger = log.Component("api")
	}
	if m == nil {
		m = metrics.New()
	}
	return &API{store: store, pipeline: pipeline, sessions: sessions, metrics: m, logger: logger}
}

// RegisterRoutes mounts /api/* and /metrics on app.
func (a *API) RegisterRoutes(app fiber.Router) {
	api := app.Group("/api")
	api.Get("/health", a.handleHealth)

	api.Get("/config", a.handleGetConfig)
	api.Put("/config", a.handlePutConfig)
	api.Get("/config/video", a.handleGetVideo)
	api.Put("/config/video", a.handlePutVideo)

	api.Get("/sinks", a.handleListSinks)
	api.Post("/sinks", a.handleAddSink)
	api.Delete("/sinks/:id", a.handleDeleteSink)

	api.Get("/sessions", a.handleListSessions)
	api.Post("/sessions", a.handleSessionAction)

	api.Get("/slimevr/profiles", a.handleListProfiles)
	api.Put("/slimevr/profiles/:id", a.handlePutProfile)

	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
}

func (a *API) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (a *API) handleGetConfig(c *fiber.Ctx) error {
	cfg, err := a.store.Read()
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(cfg)
}

// handlePutConfig merges a partial config, persists it and applies it to
// the running pipeline.
func (a *API) handlePutConfig(c *fiber.Ctx) error {
	var patch configstore.Patch
	if err := c.BodyParser(&patch); err != nil {
		return a.fail(c, badRequest(err))
	}
	cfg, err := a.store.Update(patch)
	if err != nil {
		return a.fail(c, err)
	}
	if err := a.pipeline.UpdateConfig(); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(cfg)
}

func (a *API) handleGetVideo(c *fiber.Ctx) error {
	cfg, err := a.store.Read()
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(cfg.Video)
}

func (a *API) handlePutVideo(c *fiber.Ctx) error {
	var patch configstore.VideoPatch
	if err := c.BodyParser(&patch); err != nil {
		return a.fail(c, badRequest(err))
	}
	cfg, err := a.store.Update(configstore.Patch{Video: &patch})
	if err != nil {
		return a.fail(c, err)
	}
	if err := a.pipeline.UpdateConfig(); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(cfg.Video)
}

func (a *API) handleListSinks(c *fiber.Ctx) error {
	return c.JSON(a.store.Sinks())
}

func (a *API) handleAddSink(c *fiber.Ctx) error {
	var d sink.Descriptor
	if err := c.BodyParser(&d); err != nil {
		return a.fail(c, badRequest(err))
	}
	sinks, err := a.store.AddSink(d)
	if err != nil {
		return a.fail(c, err)
	}
	if err := a.pipeline.UpdateSinks(sinks); err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d.WithDefaults())
}

func (a *API) handleDeleteSink(c *fiber.Ctx) error {
	sinks, err := a.store.RemoveSink(c.Params("id"))
	if err != nil {
		return a.fail(c, err)
	}
	if err := a.pipeline.UpdateSinks(sinks); err != nil {
		return a.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SessionAction is the request body for POST /api/sessions
type SessionAction struct {
	Action string `json:"action"` // start, stop
}

func (a *API) handleSessionAction(c *fiber.Ctx) error {
	var req SessionAction
	if err := c.BodyParser(&req); err != nil {
		return a.fail(c, badRequest(err))
	}

	switch req.Action {
	case "start":
		id, err := a.sessions.Start()
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(fiber.Map{"sessionId": id})
	case "stop":
		if err := a.sessions.Stop(); err != nil {
			return a.fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	default:
		return a.fail(c, badRequest(errors.New(`action must be "start" or "stop"`)))
	}
}

func (a *API) handleListSessions(c *fiber.Ctx) error {
	files, err := a.sessions.List()
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"status":   a.sessions.Status(),
		"sessions": files,
	})
}

func (a *API) handleListProfiles(c *fiber.Ctx) error {
	return c.JSON(a.store.TrackerProfiles())
}

func (a *API) handlePutProfile(c *fiber.Ctx) error {
	var p configstore.TrackerProfile
	if err := c.BodyParser(&p); err != nil {
		return a.fail(c, badRequest(err))
	}
	if err := a.store.SaveTrackerProfile(c.Params("id"), p); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(p)
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// fail writes err as {"error": "..."} with a status derived from its kind.
func (a *API) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		a.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, configstore.ErrInvalidConfig),
		errors.Is(err, sink.ErrInvalidDescriptor),
		errors.Is(err, sink.ErrUnknownType),
		errors.Is(err, sink.ErrDuplicateID):
		return fiber.StatusBadRequest
	case errors.Is(err, configstore.ErrSinkNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, recorder.ErrSessionActive):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
