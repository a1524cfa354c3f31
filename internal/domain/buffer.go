package domain

import (
	"time"

	"github.com/google/uuid"
)

// FragmentKind classifies an inbound message fragment.
type FragmentKind string

const (
	FragmentKindText     FragmentKind = "text"
	FragmentKindAudio    FragmentKind = "audio"
	FragmentKindImage    FragmentKind = "image"
	FragmentKindDocument FragmentKind = "document"
)

// MessageFragment is one inbound message accumulated in a buffer.
type MessageFragment struct {
	Text       string       `json:"text"`
	Kind       FragmentKind `json:"kind"`
	MediaURL   string       `json:"media_url,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// MessageBuffer is one open accumulation window for a contact's
// unanswered messages. At most one live buffer exists per
// (business, contact) pair; ProcessingUntil set in the future means a
// worker holds an exclusive claim on it.
type MessageBuffer struct {
	ID              uuid.UUID
	BusinessID      uuid.UUID
	ContactPhone    string
	Fragments       []MessageFragment
	ExpiresAt       time.Time
	ProcessingUntil *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CombinedText joins the fragments in arrival order for webhook consumers.
func (b *MessageBuffer) CombinedText() string {
	out := ""
	for i, f := range b.Fragments {
		if i > 0 {
			out += "\n"
		}
		out += f.Text
	}
	return out
}
