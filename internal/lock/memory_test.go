package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStoreProcessingSingleAcquire(t *testing.T) {
	store := NewMemoryStore("test")
	ctx := context.Background()
	business := uuid.New()

	if !store.TryAcquireProcessing(ctx, business, "5511999887766", time.Minute) {
		t.Fatal("first acquire should succeed")
	}
	if store.TryAcquireProcessing(ctx, business, "5511999887766", time.Minute) {
		t.Fatal("second acquire within TTL should fail")
	}

	// a different contact is unaffected
	if !store.TryAcquireProcessing(ctx, business, "5511888776655", time.Minute) {
		t.Fatal("acquire for a different contact should succeed")
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore("test")
	ctx := context.Background()
	business := uuid.New()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if !store.TryAcquireProcessing(ctx, business, "5511999887766", 30*time.Second) {
		t.Fatal("first acquire should succeed")
	}

	now = now.Add(29 * time.Second)
	if store.TryAcquireProcessing(ctx, business, "5511999887766", 30*time.Second) {
		t.Fatal("acquire before expiry should fail")
	}

	now = now.Add(2 * time.Second)
	if !store.TryAcquireProcessing(ctx, business, "5511999887766", 30*time.Second) {
		t.Fatal("acquire after expiry should succeed")
	}
}

func TestMemoryStoreActiveFlag(t *testing.T) {
	store := NewMemoryStore("test")
	ctx := context.Background()
	business := uuid.New()

	if store.IsActive(ctx, business, "5511999887766") {
		t.Fatal("flag should start unset")
	}

	store.SetActive(ctx, business, "5511999887766", time.Minute)
	if !store.IsActive(ctx, business, "5511999887766") {
		t.Fatal("flag should be set")
	}

	store.ClearActive(ctx, business, "5511999887766")
	if store.IsActive(ctx, business, "5511999887766") {
		t.Fatal("flag should be cleared")
	}
}

func TestMemoryStoreLazySweep(t *testing.T) {
	store := NewMemoryStore("test")
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		store.SetActive(ctx, uuid.New(), "5511999887766", time.Second)
	}

	now = now.Add(2 * time.Second)
	store.IsActive(ctx, uuid.New(), "none")

	store.mu.Lock()
	remaining := len(store.entries)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected expired entries swept, %d remain", remaining)
	}
}

func TestMemoryStoreClearProcessing(t *testing.T) {
	store := NewMemoryStore("test")
	ctx := context.Background()
	business := uuid.New()

	store.TryAcquireProcessing(ctx, business, "5511999887766", time.Minute)
	store.ClearProcessing(ctx, business, "5511999887766")

	if !store.TryAcquireProcessing(ctx, business, "5511999887766", time.Minute) {
		t.Fatal("acquire after clear should succeed")
	}
}
