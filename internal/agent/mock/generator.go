package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme/whatsapp-reply-pipeline/internal/agent"
	"github.com/acme/whatsapp-reply-pipeline/internal/config"
)

// Generator simulates the reply agent.
type Generator struct {
	successRate float64
	rng         *rand.Rand
}

// NewGenerator constructs a mock generator.
func NewGenerator(cfg config.AgentConfig) *Generator {
	rate := cfg.MockSuccessRate
	if rate <= 0 || rate > 1 {
		rate = 0.9
	}
	return &Generator{
		successRate: rate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateReply simulates a slow generation call.
func (g *Generator) GenerateReply(ctx context.Context, req agent.Request) (agent.Reply, error) {
	delay := time.Duration(200+g.rng.Intn(1500)) * time.Millisecond

	select {
	case <-ctx.Done():
		return agent.Reply{}, ctx.Err()
	case <-time.After(delay):
	}

	if g.rng.Float64() > g.successRate {
		return agent.Reply{}, fmt.Errorf("mock generator: simulated failure")
	}

	name := req.Contact.Name
	if name == "" {
		name = req.Contact.Phone
	}
	return agent.Reply{
		Text:       fmt.Sprintf("Hola %s, gracias por tus %d mensajes. ¿En qué puedo ayudarte?", name, len(req.Fragments)),
		Model:      "mock",
		TokensUsed: 64,
	}, nil
}
