package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/config"
	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/events"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/messaging"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

type fakeReminders struct {
	due      []domain.Reminder
	created  []*domain.Reminder
	released []uuid.UUID
	deleted  []uuid.UUID
}

func (f *fakeReminders) Create(_ context.Context, r *domain.Reminder) error {
	f.created = append(f.created, r)
	return nil
}
func (f *fakeReminders) ClaimDue(context.Context, time.Time, time.Time, int) ([]domain.Reminder, error) {
	out := f.due
	f.due = nil
	return out, nil
}
func (f *fakeReminders) Release(_ context.Context, id uuid.UUID) error {
	f.released = append(f.released, id)
	return nil
}
func (f *fakeReminders) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeInactivity struct {
	due []repository.InactiveContact
}

func (f *fakeInactivity) ListDue(context.Context, time.Time, int) ([]repository.InactiveContact, error) {
	return f.due, nil
}

type fakeContacts struct {
	nudged []string
}

func (f *fakeContacts) Upsert(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}
func (f *fakeContacts) Get(context.Context, uuid.UUID, string) (*domain.Contact, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeContacts) MarkNudged(_ context.Context, _ uuid.UUID, phone string, _ time.Time) error {
	f.nudged = append(f.nudged, phone)
	return nil
}

type fakeBusinesses struct {
	instance *domain.WhatsAppInstance
}

func (f *fakeBusinesses) Get(context.Context, uuid.UUID) (*domain.Business, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeBusinesses) GetInstance(context.Context, uuid.UUID) (*domain.WhatsAppInstance, error) {
	if f.instance == nil {
		return nil, repository.ErrNotFound
	}
	return f.instance, nil
}

type fakeConversations struct {
	events []domain.ConversationEvent
}

func (f *fakeConversations) Append(_ context.Context, event domain.ConversationEvent) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeConversations) History(context.Context, uuid.UUID, string, int) ([]domain.ConversationEvent, error) {
	return nil, nil
}

type fakeSender struct {
	sent []messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ *domain.WhatsAppInstance, msg messaging.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakePublisher struct {
	published []events.PipelineEvent
}

func (f *fakePublisher) Publish(_ context.Context, event events.PipelineEvent) error {
	f.published = append(f.published, event)
	return nil
}

type fixture struct {
	reminders     *fakeReminders
	inactivity    *fakeInactivity
	contacts      *fakeContacts
	businesses    *fakeBusinesses
	conversations *fakeConversations
	locks         *lock.MemoryStore
	sender        *fakeSender
	publisher     *fakePublisher
	svc           *Service
}

func newFixture() *fixture {
	f := &fixture{
		reminders:  &fakeReminders{},
		inactivity: &fakeInactivity{},
		contacts:   &fakeContacts{},
		businesses: &fakeBusinesses{
			instance: &domain.WhatsAppInstance{ID: uuid.New(), Status: domain.InstanceStatusConnected},
		},
		conversations: &fakeConversations{},
		locks:         lock.NewMemoryStore("test"),
		sender:        &fakeSender{},
		publisher:     &fakePublisher{},
	}
	f.svc = NewService(
		f.reminders, f.inactivity, f.contacts, f.businesses, f.conversations,
		f.locks, f.sender, f.publisher,
		config.RemindersConfig{ClaimDuration: 10 * time.Minute, LegacyInterval: time.Minute, Batch: 100},
		&logger.Logger{Logger: zap.NewNop()},
	)
	return f
}

func TestCatchUpDeliversAndDeletes(t *testing.T) {
	f := newFixture()
	r := domain.Reminder{
		ID:           uuid.New(),
		BusinessID:   uuid.New(),
		ContactPhone: "5511999887766",
		Message:      "lembrete: sua consulta é amanhã",
		DueAt:        time.Now().UTC().Add(-time.Minute),
	}
	f.reminders.due = []domain.Reminder{r}

	if err := f.svc.CatchUp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0].Text != r.Message {
		t.Fatalf("expected reminder sent, got %+v", f.sender.sent)
	}
	if len(f.reminders.deleted) != 1 || f.reminders.deleted[0] != r.ID {
		t.Errorf("expected reminder deleted, got %v", f.reminders.deleted)
	}
	if len(f.conversations.events) != 1 || f.conversations.events[0].Role != domain.RoleAssistant {
		t.Errorf("expected assistant event, got %+v", f.conversations.events)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != events.TypeReminderSent {
		t.Errorf("expected reminder.sent event, got %+v", f.publisher.published)
	}
}

func TestCatchUpReleasesOnSendFailure(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("provider timeout")
	r := domain.Reminder{ID: uuid.New(), BusinessID: uuid.New(), ContactPhone: "5511999887766", Message: "oi", DueAt: time.Now()}
	f.reminders.due = []domain.Reminder{r}

	if err := f.svc.CatchUp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.reminders.deleted) != 0 {
		t.Error("undelivered reminder must not be deleted")
	}
	if len(f.reminders.released) != 1 || f.reminders.released[0] != r.ID {
		t.Errorf("expected claim released, got %v", f.reminders.released)
	}
}

func TestCatchUpReleasesWhenInstanceDisconnected(t *testing.T) {
	f := newFixture()
	f.businesses.instance.Status = domain.InstanceStatusDisconnected
	r := domain.Reminder{ID: uuid.New(), BusinessID: uuid.New(), ContactPhone: "5511999887766", Message: "oi", DueAt: time.Now()}
	f.reminders.due = []domain.Reminder{r}

	if err := f.svc.CatchUp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Error("nothing may be sent through a disconnected instance")
	}
	if len(f.reminders.released) != 1 {
		t.Errorf("expected claim released, got %v", f.reminders.released)
	}
}

func inactiveContact(businessID uuid.UUID, phone string) repository.InactiveContact {
	return repository.InactiveContact{
		Contact: domain.Contact{BusinessID: businessID, Phone: phone},
		Settings: domain.InactivitySettings{
			BusinessID: businessID,
			Enabled:    true,
			Threshold:  24 * time.Hour,
			Message:    "sentimos sua falta!",
		},
	}
}

func TestCheckInactivityNudges(t *testing.T) {
	f := newFixture()
	businessID := uuid.New()
	f.inactivity.due = []repository.InactiveContact{inactiveContact(businessID, "5511999887766")}

	if err := f.svc.CheckInactivity(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0].Text != "sentimos sua falta!" {
		t.Fatalf("expected nudge sent, got %+v", f.sender.sent)
	}
	if len(f.contacts.nudged) != 1 || f.contacts.nudged[0] != "5511999887766" {
		t.Errorf("expected contact marked nudged, got %v", f.contacts.nudged)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != events.TypeNudgeSent {
		t.Errorf("expected nudge.sent event, got %+v", f.publisher.published)
	}
}

func TestCheckInactivitySkipsMutedContacts(t *testing.T) {
	f := newFixture()
	item := inactiveContact(uuid.New(), "5511999887766")
	item.Contact.BotMuted = true
	f.inactivity.due = []repository.InactiveContact{item}

	if err := f.svc.CheckInactivity(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Error("muted contacts must not be nudged")
	}
}

func TestCheckInactivitySkipsContactsMidConversation(t *testing.T) {
	f := newFixture()
	businessID := uuid.New()
	f.inactivity.due = []repository.InactiveContact{inactiveContact(businessID, "5511999887766")}
	f.locks.SetActive(context.Background(), businessID, "5511999887766", time.Minute)

	if err := f.svc.CheckInactivity(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Error("contacts with an open buffer must not be nudged")
	}
}

func TestScheduleValidates(t *testing.T) {
	f := newFixture()

	err := f.svc.Schedule(context.Background(), &domain.Reminder{DueAt: time.Now()})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}

	err = f.svc.Schedule(context.Background(), &domain.Reminder{Message: "oi"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for missing due time, got %v", err)
	}

	ok := &domain.Reminder{BusinessID: uuid.New(), ContactPhone: "5511999887766", Message: "oi", DueAt: time.Now().Add(time.Hour)}
	if err := f.svc.Schedule(context.Background(), ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.reminders.created) != 1 {
		t.Fatalf("expected reminder persisted, got %d", len(f.reminders.created))
	}
}
