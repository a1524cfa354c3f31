package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
)

// ConversationStore keeps the append-only conversation log in Scylla,
// day-bucketed per (business, contact) partition.
type ConversationStore struct {
	session *gocql.Session
}

// NewConversationStore creates a new conversation store.
func NewConversationStore(session *gocql.Session) *ConversationStore {
	return &ConversationStore{session: session}
}

// Append inserts one conversation event.
func (s *ConversationStore) Append(ctx context.Context, event domain.ConversationEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	bucket := bucketDate(event.OccurredAt)

	if err := s.session.Query(`INSERT INTO conversation_events (business_id, contact_phone, bucket, occurred_at, event_id, role, text, media_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.BusinessID.String(), event.ContactPhone, bucket, event.OccurredAt, event.ID.String(),
		string(event.Role), event.Text, event.MediaURL,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("conversation store: append: %w", err)
	}
	return nil
}

// History returns the most recent events in chronological order. The table
// clusters by occurred_at DESC, so results are reversed before returning.
func (s *ConversationStore) History(ctx context.Context, businessID uuid.UUID, contactPhone string, limit int) ([]domain.ConversationEvent, error) {
	if limit <= 0 {
		limit = 40
	}

	iter := s.session.Query(`SELECT bucket, occurred_at, event_id, role, text, media_url
		FROM conversation_events
		WHERE business_id = ? AND contact_phone = ?
		LIMIT ?`, businessID.String(), contactPhone, limit).WithContext(ctx).Iter()

	var (
		bucket     time.Time
		occurredAt time.Time
		eventIDStr string
		role       string
		text       string
		mediaURL   string
	)

	events := make([]domain.ConversationEvent, 0, limit)
	for iter.Scan(&bucket, &occurredAt, &eventIDStr, &role, &text, &mediaURL) {
		eventID, err := uuid.Parse(eventIDStr)
		if err != nil {
			continue
		}
		events = append(events, domain.ConversationEvent{
			ID:           eventID,
			BusinessID:   businessID,
			ContactPhone: contactPhone,
			Role:         domain.ConversationRole(role),
			Text:         text,
			MediaURL:     mediaURL,
			OccurredAt:   occurredAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("conversation store: iter close: %w", err)
	}

	// newest-first on disk, oldest-first for the agent
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
