package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/app"
	"github.com/acme/whatsapp-reply-pipeline/internal/buffer"
	"github.com/acme/whatsapp-reply-pipeline/internal/reminder"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	buffers   *buffer.Service
	reminders *reminder.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		buffers:   services.Buffer,
		reminders: services.Reminder,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Post("/messages", h.ingestMessage)
	v1.Post("/reminders", h.createReminder)
	v1.Get("/conversations/:business_id/:phone", h.getConversation)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	state := h.container.Pipeline().Lifecycle.State()

	// redis being down is survivable in degraded mode; postgres or scylla
	// being down is not
	status := fiber.StatusOK
	if _, ok := errs["postgres"]; ok {
		status = fiber.StatusServiceUnavailable
	}
	if _, ok := errs["scylla"]; ok {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{
		"status": "ok",
		"state":  string(state),
		"errors": errs,
	})
}
