package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationRole identifies who produced a conversation event.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleSystem    ConversationRole = "system"
)

// ConversationEvent is one entry in the append-only conversation log.
type ConversationEvent struct {
	ID           uuid.UUID
	BusinessID   uuid.UUID
	ContactPhone string
	Role         ConversationRole
	Text         string
	MediaURL     string
	OccurredAt   time.Time
}
