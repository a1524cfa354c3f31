package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/pkg/phone"
)

type createReminderRequest struct {
	BusinessID string    `json:"business_id"`
	Phone      string    `json:"phone"`
	Message    string    `json:"message"`
	DueAt      time.Time `json:"due_at"`
}

func (h *HandlerSet) createReminder(ctx *fiber.Ctx) error {
	var req createReminderRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	businessID, err := uuid.Parse(req.BusinessID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid business id")
	}

	reminder := &domain.Reminder{
		BusinessID:   businessID,
		ContactPhone: phone.Normalize(req.Phone),
		Message:      req.Message,
		DueAt:        req.DueAt,
	}

	if err := h.reminders.Schedule(ctx.Context(), reminder); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"id":     reminder.ID,
		"due_at": reminder.DueAt,
	})
}
