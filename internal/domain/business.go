package domain

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus enumerates WhatsApp instance connection states.
type InstanceStatus string

const (
	InstanceStatusConnected    InstanceStatus = "connected"
	InstanceStatusDisconnected InstanceStatus = "disconnected"
	InstanceStatusPairing      InstanceStatus = "pairing"
)

// Business models a tenant of the platform.
type Business struct {
	ID           uuid.UUID
	Name         string
	TimeZone     string
	BotEnabled   bool
	CustomPrompt string
	WebhookURL   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WhatsAppInstance is the messaging channel attached to a business.
type WhatsAppInstance struct {
	ID          uuid.UUID
	BusinessID  uuid.UUID
	PhoneNumber string
	Status      InstanceStatus
	CreatedAt   time.Time
}

// Contact is a customer conversing with a business.
type Contact struct {
	BusinessID    uuid.UUID
	Phone         string
	Name          string
	BotMuted      bool
	LastInboundAt time.Time
	LastNudgeAt   *time.Time
	CreatedAt     time.Time
}

// InactivitySettings configures the per-business inactivity nudge.
type InactivitySettings struct {
	BusinessID uuid.UUID
	Enabled    bool
	Threshold  time.Duration
	Message    string
}
