package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reminder is a scheduled follow-up message for a contact.
type Reminder struct {
	ID           uuid.UUID
	BusinessID   uuid.UUID
	ContactPhone string
	Message      string
	DueAt        time.Time
	ClaimedUntil *time.Time
	CreatedAt    time.Time
}
