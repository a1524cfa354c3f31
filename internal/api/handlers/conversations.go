package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-reply-pipeline/pkg/phone"
)

func (h *HandlerSet) getConversation(ctx *fiber.Ctx) error {
	businessID, err := uuid.Parse(ctx.Params("business_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid business id")
	}

	contactPhone := phone.Normalize(ctx.Params("phone"))
	if contactPhone == "" {
		return fiber.NewError(http.StatusBadRequest, "invalid phone")
	}

	limit := 40
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fiber.NewError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	history, err := h.container.Repositories().Conversations.History(ctx.Context(), businessID, contactPhone, limit)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"business_id": businessID,
		"phone":       contactPhone,
		"events":      history,
	})
}
