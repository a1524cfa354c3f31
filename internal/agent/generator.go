package agent

import (
	"context"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
)

// Request carries everything the reply agent needs for one generation.
// Fragments are in arrival order; History is oldest-first.
type Request struct {
	Business  *domain.Business
	Instance  *domain.WhatsAppInstance
	Contact   domain.Contact
	History   []domain.ConversationEvent
	Fragments []domain.MessageFragment
}

// Reply is the generated response.
type Reply struct {
	Text       string
	MediaURL   string
	Model      string
	TokensUsed int
}

// Generator abstracts the AI reply integration. Calls may take seconds and
// may fail; retries are the caller's concern.
type Generator interface {
	GenerateReply(ctx context.Context, req Request) (Reply, error)
}
