package messaging

import (
	"context"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
)

// Message is one outbound delivery.
type Message struct {
	To       string
	Text     string
	MediaURL string
}

// Sender abstracts the outbound channel provider.
type Sender interface {
	Send(ctx context.Context, instance *domain.WhatsAppInstance, msg Message) error
}
