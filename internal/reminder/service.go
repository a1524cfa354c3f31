package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/config"
	"github.com/acme/whatsapp-reply-pipeline/internal/dispatch"
	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/events"
	"github.com/acme/whatsapp-reply-pipeline/internal/jobs"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/messaging"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// Service delivers scheduled follow-up reminders and inactivity nudges.
// Both run as repeatable jobs when the queue backend is up, or from the
// legacy ticker loop in degraded mode.
type Service struct {
	reminders     repository.ReminderRepository
	inactivity    repository.InactivityRepository
	contacts      repository.ContactRepository
	businesses    repository.BusinessRepository
	conversations repository.ConversationStore
	locks         lock.Store
	sender        messaging.Sender
	publisher     dispatch.EventPublisher
	logger        *logger.Logger

	claimDuration  time.Duration
	legacyInterval time.Duration
	batch          int
}

// NewService constructs the reminder service. publisher may be nil.
func NewService(
	reminders repository.ReminderRepository,
	inactivity repository.InactivityRepository,
	contacts repository.ContactRepository,
	businesses repository.BusinessRepository,
	conversations repository.ConversationStore,
	locks lock.Store,
	sender messaging.Sender,
	publisher dispatch.EventPublisher,
	cfg config.RemindersConfig,
	lg *logger.Logger,
) *Service {
	return &Service{
		reminders:      reminders,
		inactivity:     inactivity,
		contacts:       contacts,
		businesses:     businesses,
		conversations:  conversations,
		locks:          locks,
		sender:         sender,
		publisher:      publisher,
		logger:         lg,
		claimDuration:  cfg.ClaimDuration,
		legacyInterval: cfg.LegacyInterval,
		batch:          cfg.Batch,
	}
}

// Schedule persists a new reminder for later delivery.
func (s *Service) Schedule(ctx context.Context, reminder *domain.Reminder) error {
	if reminder.Message == "" {
		return fmt.Errorf("%w: reminder message is required", apperrors.ErrValidation)
	}
	if reminder.DueAt.IsZero() {
		return fmt.Errorf("%w: reminder due time is required", apperrors.ErrValidation)
	}
	return s.reminders.Create(ctx, reminder)
}

// HandleCatchUpJob is the reminders queue handler.
func (s *Service) HandleCatchUpJob(ctx context.Context, _ *jobs.Job) error {
	return s.CatchUp(ctx)
}

// HandleInactivityJob is the inactivity-checks queue handler.
func (s *Service) HandleInactivityJob(ctx context.Context, _ *jobs.Job) error {
	return s.CheckInactivity(ctx)
}

// Run is the degraded-mode loop driving both passes from one local ticker.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("reminder: running on local ticker", zap.Duration("interval", s.legacyInterval))
	ticker := time.NewTicker(s.legacyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder: stopped")
			return
		case <-ticker.C:
			if err := s.CatchUp(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reminder: catch-up failed", zap.Error(err))
			}
			if err := s.CheckInactivity(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reminder: inactivity check failed", zap.Error(err))
			}
		}
	}
}

// CatchUp claims due reminders and delivers each one. A reminder that
// cannot be delivered is released for the next pass; one that succeeds is
// deleted.
func (s *Service) CatchUp(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.reminders.ClaimDue(ctx, now, now.Add(s.claimDuration), s.batch)
	if err != nil {
		return fmt.Errorf("reminder: claim due: %w", err)
	}

	for i := range due {
		r := due[i]
		if ctx.Err() != nil {
			break
		}
		if err := s.deliver(ctx, r); err != nil {
			s.logger.Warn("reminder: delivery failed",
				zap.String("reminder_id", r.ID.String()),
				zap.Error(err))
			if rerr := s.reminders.Release(ctx, r.ID); rerr != nil {
				s.logger.Warn("reminder: release", zap.String("reminder_id", r.ID.String()), zap.Error(rerr))
			}
			continue
		}
		if err := s.reminders.Delete(ctx, r.ID); err != nil {
			s.logger.Warn("reminder: delete after delivery", zap.String("reminder_id", r.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, r domain.Reminder) error {
	instance, err := s.businesses.GetInstance(ctx, r.BusinessID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	if instance.Status != domain.InstanceStatusConnected {
		return fmt.Errorf("%w: instance %s is %s", apperrors.ErrUnavailable, instance.ID, instance.Status)
	}

	if err := s.sender.Send(ctx, instance, messaging.Message{
		To:   r.ContactPhone,
		Text: r.Message,
	}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := s.conversations.Append(ctx, domain.ConversationEvent{
		BusinessID:   r.BusinessID,
		ContactPhone: r.ContactPhone,
		Role:         domain.RoleAssistant,
		Text:         r.Message,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("reminder: append conversation event", zap.String("contact", r.ContactPhone), zap.Error(err))
	}

	s.publish(ctx, events.PipelineEvent{
		Type:         events.TypeReminderSent,
		BusinessID:   r.BusinessID,
		ContactPhone: r.ContactPhone,
	})
	return nil
}

// CheckInactivity nudges contacts who went quiet past their business's
// threshold. Contacts mid-conversation (an open buffer) are left alone.
func (s *Service) CheckInactivity(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.inactivity.ListDue(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("reminder: list inactive: %w", err)
	}

	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		if item.Contact.BotMuted {
			continue
		}
		if s.locks.IsActive(ctx, item.Contact.BusinessID, item.Contact.Phone) {
			continue
		}
		if err := s.nudge(ctx, item, now); err != nil {
			s.logger.Warn("reminder: nudge failed",
				zap.String("business_id", item.Contact.BusinessID.String()),
				zap.String("contact", item.Contact.Phone),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Service) nudge(ctx context.Context, item repository.InactiveContact, now time.Time) error {
	instance, err := s.businesses.GetInstance(ctx, item.Contact.BusinessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load instance: %w", err)
	}
	if instance.Status != domain.InstanceStatusConnected {
		return nil
	}

	if err := s.sender.Send(ctx, instance, messaging.Message{
		To:   item.Contact.Phone,
		Text: item.Settings.Message,
	}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// mark first so a slow conversation append cannot double-nudge
	if err := s.contacts.MarkNudged(ctx, item.Contact.BusinessID, item.Contact.Phone, now); err != nil {
		s.logger.Warn("reminder: mark nudged", zap.String("contact", item.Contact.Phone), zap.Error(err))
	}

	if err := s.conversations.Append(ctx, domain.ConversationEvent{
		BusinessID:   item.Contact.BusinessID,
		ContactPhone: item.Contact.Phone,
		Role:         domain.RoleAssistant,
		Text:         item.Settings.Message,
		OccurredAt:   now,
	}); err != nil {
		s.logger.Warn("reminder: append conversation event", zap.String("contact", item.Contact.Phone), zap.Error(err))
	}

	s.publish(ctx, events.PipelineEvent{
		Type:         events.TypeNudgeSent,
		BusinessID:   item.Contact.BusinessID,
		ContactPhone: item.Contact.Phone,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, event events.PipelineEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("reminder: publish pipeline event", zap.String("type", event.Type), zap.Error(err))
	}
}
