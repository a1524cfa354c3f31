package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/pkg/phone"
)

// ingestMessageRequest tolerates the payload variants the messaging
// providers emit: the text may arrive under message, text, body, or
// caption, and the sender under phone or chat_id.
type ingestMessageRequest struct {
	BusinessID string `json:"business_id"`
	ChatID     string `json:"chat_id"`
	Phone      string `json:"phone"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	Text       string `json:"text"`
	Body       string `json:"body"`
	Caption    string `json:"caption"`
	Kind       string `json:"kind"`
	MediaURL   string `json:"media_url"`
	Timestamp  int64  `json:"timestamp"`
}

func (r *ingestMessageRequest) text() string {
	for _, v := range []string{r.Message, r.Text, r.Body, r.Caption} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r *ingestMessageRequest) contactPhone() string {
	if r.Phone != "" {
		return r.Phone
	}
	if p, ok := phone.FromChatID(r.ChatID); ok {
		return p
	}
	return r.ChatID
}

func (h *HandlerSet) ingestMessage(ctx *fiber.Ctx) error {
	var req ingestMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	businessID, err := uuid.Parse(req.BusinessID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid business id")
	}

	fragment := domain.MessageFragment{
		Text:     req.text(),
		Kind:     domain.FragmentKind(req.Kind),
		MediaURL: req.MediaURL,
	}
	if req.Timestamp > 0 {
		fragment.ReceivedAt = time.Unix(req.Timestamp, 0).UTC()
	}

	buf, err := h.buffers.Append(ctx.Context(), businessID, req.contactPhone(), req.SenderName, fragment)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"buffer_id":  buf.ID,
		"fragments":  len(buf.Fragments),
		"expires_at": buf.ExpiresAt,
	})
}
