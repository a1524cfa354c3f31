package buffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

type fakeBufferRepo struct {
	buffers map[string]*domain.MessageBuffer
}

func newFakeBufferRepo() *fakeBufferRepo {
	return &fakeBufferRepo{buffers: make(map[string]*domain.MessageBuffer)}
}

func (f *fakeBufferRepo) Append(_ context.Context, businessID uuid.UUID, phone string, fragment domain.MessageFragment, expiresAt time.Time) (*domain.MessageBuffer, error) {
	key := businessID.String() + "/" + phone
	buf, ok := f.buffers[key]
	if !ok {
		buf = &domain.MessageBuffer{
			ID:           uuid.New(),
			BusinessID:   businessID,
			ContactPhone: phone,
			CreatedAt:    time.Now().UTC(),
		}
		f.buffers[key] = buf
	}
	buf.Fragments = append(buf.Fragments, fragment)
	buf.ExpiresAt = expiresAt
	buf.UpdatedAt = time.Now().UTC()
	out := *buf
	return &out, nil
}

func (f *fakeBufferRepo) FindExpired(context.Context, time.Time, int) ([]*domain.MessageBuffer, error) {
	return nil, nil
}
func (f *fakeBufferRepo) Claim(context.Context, uuid.UUID, time.Time, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeBufferRepo) ReleaseClaim(context.Context, uuid.UUID) error { return nil }
func (f *fakeBufferRepo) Delete(context.Context, uuid.UUID) error      { return nil }

type fakeContactRepo struct {
	upserts []string
}

func (f *fakeContactRepo) Upsert(_ context.Context, _ uuid.UUID, phone, _ string, _ time.Time) error {
	f.upserts = append(f.upserts, phone)
	return nil
}
func (f *fakeContactRepo) Get(context.Context, uuid.UUID, string) (*domain.Contact, error) {
	return nil, apperrors.ErrNotFound
}
func (f *fakeContactRepo) MarkNudged(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

type fakeConversationStore struct {
	events []domain.ConversationEvent
}

func (f *fakeConversationStore) Append(_ context.Context, event domain.ConversationEvent) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeConversationStore) History(context.Context, uuid.UUID, string, int) ([]domain.ConversationEvent, error) {
	return nil, nil
}

func newTestService(buffers *fakeBufferRepo, contacts *fakeContactRepo, conversations *fakeConversationStore, locks lock.Store) *Service {
	lg := &logger.Logger{Logger: zap.NewNop()}
	return NewService(buffers, contacts, conversations, locks, 10*time.Second, 15*time.Second, lg)
}

func TestAppendCreatesBufferAndSetsFlag(t *testing.T) {
	buffers := newFakeBufferRepo()
	contacts := &fakeContactRepo{}
	conversations := &fakeConversationStore{}
	locks := lock.NewMemoryStore("test")
	svc := newTestService(buffers, contacts, conversations, locks)

	business := uuid.New()
	buf, err := svc.Append(context.Background(), business, "+55 (11) 99988-7766", "Ana", domain.MessageFragment{Text: "oi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if buf.ContactPhone != "5511999887766" {
		t.Errorf("phone not normalized: %q", buf.ContactPhone)
	}
	if len(buf.Fragments) != 1 {
		t.Errorf("expected 1 fragment, got %d", len(buf.Fragments))
	}
	if len(contacts.upserts) != 1 || contacts.upserts[0] != "5511999887766" {
		t.Errorf("expected contact upsert for normalized phone, got %v", contacts.upserts)
	}
	if !locks.IsActive(context.Background(), business, "5511999887766") {
		t.Error("expected buffer-active flag set")
	}
	if len(conversations.events) != 1 || conversations.events[0].Role != domain.RoleUser {
		t.Errorf("expected one user conversation event, got %+v", conversations.events)
	}
}

func TestAppendSlidesWindow(t *testing.T) {
	buffers := newFakeBufferRepo()
	svc := newTestService(buffers, &fakeContactRepo{}, &fakeConversationStore{}, lock.NewMemoryStore("test"))

	business := uuid.New()
	first, err := svc.Append(context.Background(), business, "5511999887766", "", domain.MessageFragment{Text: "primeira"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	second, err := svc.Append(context.Background(), business, "5511999887766", "", domain.MessageFragment{Text: "segunda"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.ID != first.ID {
		t.Error("expected the same open buffer")
	}
	if len(second.Fragments) != 2 {
		t.Errorf("expected 2 fragments, got %d", len(second.Fragments))
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("expected expiry to slide forward: first %v, second %v", first.ExpiresAt, second.ExpiresAt)
	}
	if second.Fragments[0].Text != "primeira" || second.Fragments[1].Text != "segunda" {
		t.Errorf("fragments out of order: %+v", second.Fragments)
	}
}

func TestAppendRejectsEmptyFragment(t *testing.T) {
	svc := newTestService(newFakeBufferRepo(), &fakeContactRepo{}, &fakeConversationStore{}, lock.NewMemoryStore("test"))

	_, err := svc.Append(context.Background(), uuid.New(), "5511999887766", "", domain.MessageFragment{Text: "   "})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendRejectsMissingPhone(t *testing.T) {
	svc := newTestService(newFakeBufferRepo(), &fakeContactRepo{}, &fakeConversationStore{}, lock.NewMemoryStore("test"))

	_, err := svc.Append(context.Background(), uuid.New(), "no digits here", "", domain.MessageFragment{Text: "oi"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendKeepsMediaOnlyFragment(t *testing.T) {
	svc := newTestService(newFakeBufferRepo(), &fakeContactRepo{}, &fakeConversationStore{}, lock.NewMemoryStore("test"))

	buf, err := svc.Append(context.Background(), uuid.New(), "5511999887766", "", domain.MessageFragment{
		Kind:     domain.FragmentKindAudio,
		MediaURL: "https://media.example/audio.ogg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Fragments[0].Kind != domain.FragmentKindAudio {
		t.Errorf("expected audio fragment, got %q", buf.Fragments[0].Kind)
	}
}
