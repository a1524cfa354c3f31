package buffer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
	"github.com/acme/whatsapp-reply-pipeline/pkg/phone"
)

// Service accumulates inbound messages per (business, contact) into a
// sliding time window. There is no flush operation: a buffer becomes
// eligible for processing only when its window expires and the sweeper
// observes it, so a contact can keep typing without triggering a reply
// per message.
type Service struct {
	buffers       repository.BufferRepository
	contacts      repository.ContactRepository
	conversations repository.ConversationStore
	locks         lock.Store

	window    time.Duration
	activeTTL time.Duration
	logger    *logger.Logger
}

// NewService constructs the buffer service.
func NewService(
	buffers repository.BufferRepository,
	contacts repository.ContactRepository,
	conversations repository.ConversationStore,
	locks lock.Store,
	window, activeTTL time.Duration,
	lg *logger.Logger,
) *Service {
	if window <= 0 {
		window = 10 * time.Second
	}
	if activeTTL <= 0 {
		activeTTL = window + 5*time.Second
	}
	return &Service{
		buffers:       buffers,
		contacts:      contacts,
		conversations: conversations,
		locks:         locks,
		window:        window,
		activeTTL:     activeTTL,
		logger:        lg,
	}
}

// Append records one inbound message. It creates the contact's buffer when
// none is open, otherwise appends and slides the expiry forward to
// now + window.
func (s *Service) Append(ctx context.Context, businessID uuid.UUID, rawPhone, senderName string, fragment domain.MessageFragment) (*domain.MessageBuffer, error) {
	contactPhone := phone.Normalize(rawPhone)
	if contactPhone == "" {
		return nil, fmt.Errorf("%w: contact phone is required", apperrors.ErrValidation)
	}

	fragment.Text = strings.TrimSpace(fragment.Text)
	if fragment.Text == "" && fragment.MediaURL == "" {
		return nil, fmt.Errorf("%w: empty message fragment", apperrors.ErrValidation)
	}
	if fragment.Kind == "" {
		fragment.Kind = domain.FragmentKindText
	}

	now := time.Now().UTC()
	if fragment.ReceivedAt.IsZero() {
		fragment.ReceivedAt = now
	}

	if err := s.contacts.Upsert(ctx, businessID, contactPhone, senderName, now); err != nil {
		return nil, fmt.Errorf("buffer service: upsert contact: %w", err)
	}

	buf, err := s.buffers.Append(ctx, businessID, contactPhone, fragment, now.Add(s.window))
	if err != nil {
		return nil, fmt.Errorf("buffer service: append: %w", err)
	}

	s.locks.SetActive(ctx, businessID, contactPhone, s.activeTTL)

	if err := s.conversations.Append(ctx, domain.ConversationEvent{
		BusinessID:   businessID,
		ContactPhone: contactPhone,
		Role:         domain.RoleUser,
		Text:         fragment.Text,
		MediaURL:     fragment.MediaURL,
		OccurredAt:   fragment.ReceivedAt,
	}); err != nil {
		// the buffer already holds the fragment; history is best-effort
		s.logger.Warn("buffer service: append conversation event",
			zap.String("business_id", businessID.String()),
			zap.String("contact", contactPhone),
			zap.Error(err))
	}

	return buf, nil
}

// Window exposes the configured accumulation window.
func (s *Service) Window() time.Duration {
	return s.window
}
