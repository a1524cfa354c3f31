package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types emitted by the pipeline.
const (
	TypeBufferFlushed   = "buffer.flushed"
	TypeBufferDiscarded = "buffer.discarded"
	TypeReplySent       = "reply.sent"
	TypeReplyFailed     = "reply.failed"
	TypeReminderSent    = "reminder.sent"
	TypeNudgeSent       = "nudge.sent"
)

// PipelineEvent is the record published for observability consumers.
type PipelineEvent struct {
	Type         string    `json:"type"`
	BusinessID   uuid.UUID `json:"business_id"`
	ContactPhone string    `json:"contact_phone"`
	BufferID     uuid.UUID `json:"buffer_id,omitempty"`
	Fragments    int       `json:"fragments,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher streams pipeline events to Kafka. Publishing is best-effort:
// callers log failures and move on.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher constructs a publisher for the given topic.
func NewPublisher(k *Kafka, topic string) *Publisher {
	return &Publisher{writer: k.NewWriter(topic)}
}

// Publish emits a pipeline event keyed by business id.
func (p *Publisher) Publish(ctx context.Context, event PipelineEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event publisher: marshal: %w", err)
	}
	record := kafka.Message{
		Key:   event.BusinessID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
