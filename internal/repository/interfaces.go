package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// BufferRepository persists message accumulation windows.
//
// Claim is the sole cross-process mutual exclusion mechanism for buffers:
// it must be a single conditional update reporting whether any row matched,
// never a read followed by a write.
type BufferRepository interface {
	// Append creates the buffer for (business, contact) if absent, or
	// appends the fragment and slides the expiry forward. One atomic
	// statement either way.
	Append(ctx context.Context, businessID uuid.UUID, contactPhone string, fragment domain.MessageFragment, expiresAt time.Time) (*domain.MessageBuffer, error)
	// FindExpired returns buffers whose window has elapsed and whose
	// claim, if any, has lapsed.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.MessageBuffer, error)
	// Claim atomically sets processing_until if the buffer is still
	// expired and unclaimed. Returns false when another worker won.
	Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	// ReleaseClaim clears processing_until so a future sweep retries.
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BusinessRepository reads tenant records and their messaging instances.
type BusinessRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Business, error)
	GetInstance(ctx context.Context, businessID uuid.UUID) (*domain.WhatsAppInstance, error)
}

// ContactRepository tracks the customers talking to each business.
type ContactRepository interface {
	Upsert(ctx context.Context, businessID uuid.UUID, phone, name string, lastInboundAt time.Time) error
	Get(ctx context.Context, businessID uuid.UUID, phone string) (*domain.Contact, error)
	MarkNudged(ctx context.Context, businessID uuid.UUID, phone string, at time.Time) error
}

// InactiveContact pairs a quiet contact with its business nudge settings.
type InactiveContact struct {
	Contact  domain.Contact
	Settings domain.InactivitySettings
}

// InactivityRepository finds contacts due for an inactivity nudge.
type InactivityRepository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]InactiveContact, error)
}

// ReminderRepository persists scheduled follow-up messages.
type ReminderRepository interface {
	Create(ctx context.Context, reminder *domain.Reminder) error
	// ClaimDue atomically claims up to limit due, unclaimed reminders.
	ClaimDue(ctx context.Context, now, until time.Time, limit int) ([]domain.Reminder, error)
	Release(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConversationStore is the append-only conversation event log.
type ConversationStore interface {
	Append(ctx context.Context, event domain.ConversationEvent) error
	// History returns the most recent events in chronological order.
	History(ctx context.Context, businessID uuid.UUID, contactPhone string, limit int) ([]domain.ConversationEvent, error)
}
