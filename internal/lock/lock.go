package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store marks per-contact buffer flags with a TTL.
//
// The "active" flag means a buffer is currently accepting messages for the
// contact; the "processing" flag means a worker is producing a reply and no
// second dispatch may start. Entries expire on their own, so a crashed
// worker self-heals once the TTL lapses.
type Store interface {
	IsActive(ctx context.Context, businessID uuid.UUID, contactPhone string) bool
	SetActive(ctx context.Context, businessID uuid.UUID, contactPhone string, ttl time.Duration)
	ClearActive(ctx context.Context, businessID uuid.UUID, contactPhone string)

	IsProcessing(ctx context.Context, businessID uuid.UUID, contactPhone string) bool
	// TryAcquireProcessing is an atomic set-if-not-exists. True means the
	// caller now owns the processing flag.
	TryAcquireProcessing(ctx context.Context, businessID uuid.UUID, contactPhone string, ttl time.Duration) bool
	ClearProcessing(ctx context.Context, businessID uuid.UUID, contactPhone string)
}

func activeKey(prefix string, businessID uuid.UUID, phone string) string {
	return prefix + ":buffer:" + businessID.String() + ":" + phone + ":active"
}

func processingKey(prefix string, businessID uuid.UUID, phone string) string {
	return prefix + ":buffer:" + businessID.String() + ":" + phone + ":processing"
}
