package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/messaging"
)

// Sender simulates outbound delivery.
type Sender struct {
	successRate float64
	rng         *rand.Rand
}

// NewSender constructs a mock sender.
func NewSender() *Sender {
	return &Sender{
		successRate: 0.95,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Send simulates a provider call.
func (s *Sender) Send(ctx context.Context, instance *domain.WhatsAppInstance, msg messaging.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(50+s.rng.Intn(200)) * time.Millisecond):
	}

	if instance.Status != domain.InstanceStatusConnected {
		return fmt.Errorf("mock sender: instance %s not connected", instance.ID)
	}
	if s.rng.Float64() > s.successRate {
		return fmt.Errorf("mock sender: simulated delivery failure")
	}
	return nil
}
