package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/agent"
	"github.com/acme/whatsapp-reply-pipeline/internal/config"
	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/events"
	"github.com/acme/whatsapp-reply-pipeline/internal/jobs"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/messaging"
	"github.com/acme/whatsapp-reply-pipeline/internal/notify"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	apperrors "github.com/acme/whatsapp-reply-pipeline/pkg/errors"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// Queue is the slice of the job layer the dispatcher uses.
type Queue interface {
	Enqueue(ctx context.Context, queue, jobName string, payload any, opts jobs.Options) error
}

// EventPublisher emits pipeline events for observability consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event events.PipelineEvent) error
}

// ResponsePayload is the job body for the ai-responses queue. It carries the
// full buffer snapshot so the worker never re-reads a row another process
// may have deleted.
type ResponsePayload struct {
	Buffer domain.MessageBuffer `json:"buffer"`
}

// Dispatcher turns a claimed, expired buffer into one outbound reply. The
// preferred path enqueues onto the ai-responses queue; ProcessDirect serves
// degraded mode when the queue backend is unreachable.
type Dispatcher struct {
	queue         Queue
	buffers       repository.BufferRepository
	businesses    repository.BusinessRepository
	contacts      repository.ContactRepository
	conversations repository.ConversationStore
	locks         lock.Store
	generator     agent.Generator
	sender        messaging.Sender
	publisher     EventPublisher
	notifier      *notify.Notifier
	logger        *logger.Logger

	responseOpts jobs.Options
	agentTimeout time.Duration
	historyLimit int
}

// NewDispatcher constructs the dispatcher. publisher may be nil when event
// streaming is disabled.
func NewDispatcher(
	queue Queue,
	buffers repository.BufferRepository,
	businesses repository.BusinessRepository,
	contacts repository.ContactRepository,
	conversations repository.ConversationStore,
	locks lock.Store,
	generator agent.Generator,
	sender messaging.Sender,
	publisher EventPublisher,
	notifier *notify.Notifier,
	queueCfg config.QueuesConfig,
	agentCfg config.AgentConfig,
	lg *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:         queue,
		buffers:       buffers,
		businesses:    businesses,
		contacts:      contacts,
		conversations: conversations,
		locks:         locks,
		generator:     generator,
		sender:        sender,
		publisher:     publisher,
		notifier:      notifier,
		logger:        lg,
		responseOpts: jobs.Options{
			Attempts:              queueCfg.Attempts,
			Backoff:               jobs.BackoffExponential,
			BackoffDelay:          queueCfg.BackoffDelay,
			RemoveOnCompleteAge:   queueCfg.CompletedMaxAge,
			RemoveOnCompleteCount: queueCfg.CompletedMax,
			RemoveOnFailAge:       queueCfg.FailedMaxAge,
			RemoveOnFailCount:     queueCfg.FailedMax,
		},
		agentTimeout: agentCfg.RequestTimeout,
		historyLimit: agentCfg.HistoryLimit,
	}
}

// Dispatch enqueues the buffer for asynchronous reply generation. False
// means the queue rejected the job and the caller should fall back to
// ProcessDirect.
func (d *Dispatcher) Dispatch(ctx context.Context, buf *domain.MessageBuffer) bool {
	err := d.queue.Enqueue(ctx, jobs.QueueAIResponses, "generate-reply", ResponsePayload{Buffer: *buf}, d.responseOpts)
	if err != nil {
		d.logger.Warn("dispatch: enqueue failed, falling back to direct processing",
			zap.String("buffer_id", buf.ID.String()),
			zap.Error(err))
		return false
	}

	d.publish(ctx, events.PipelineEvent{
		Type:         events.TypeBufferFlushed,
		BusinessID:   buf.BusinessID,
		ContactPhone: buf.ContactPhone,
		BufferID:     buf.ID,
		Fragments:    len(buf.Fragments),
	})
	return true
}

// HandleResponseJob is the ai-responses queue handler.
func (d *Dispatcher) HandleResponseJob(ctx context.Context, job *jobs.Job) error {
	var payload ResponsePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// malformed payloads cannot succeed on retry
		d.logger.Error("dispatch: unmarshal response payload", zap.Error(err))
		return nil
	}
	return d.ProcessDirect(ctx, &payload.Buffer)
}

// ProcessDirect generates and sends the reply synchronously. The buffer must
// already be claimed by the caller. On success the buffer row is deleted; on
// error it is left claimed so the caller decides between retry and release.
func (d *Dispatcher) ProcessDirect(ctx context.Context, buf *domain.MessageBuffer) error {
	business, err := d.businesses.Get(ctx, buf.BusinessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			d.Discard(ctx, buf, "business no longer exists")
			return nil
		}
		return fmt.Errorf("dispatch: load business: %w", err)
	}
	if !business.BotEnabled {
		d.Discard(ctx, buf, "bot disabled")
		return nil
	}

	instance, err := d.businesses.GetInstance(ctx, buf.BusinessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			d.Discard(ctx, buf, "no messaging instance")
			return nil
		}
		return fmt.Errorf("dispatch: load instance: %w", err)
	}
	if instance.Status != domain.InstanceStatusConnected {
		return fmt.Errorf("%w: instance %s is %s", apperrors.ErrUnavailable, instance.ID, instance.Status)
	}

	contact := domain.Contact{BusinessID: buf.BusinessID, Phone: buf.ContactPhone}
	if c, err := d.contacts.Get(ctx, buf.BusinessID, buf.ContactPhone); err == nil {
		contact = *c
	} else if !errors.Is(err, repository.ErrNotFound) {
		d.logger.Warn("dispatch: load contact", zap.String("contact", buf.ContactPhone), zap.Error(err))
	}
	if contact.BotMuted {
		d.Discard(ctx, buf, "contact muted the bot")
		return nil
	}

	history, err := d.conversations.History(ctx, buf.BusinessID, buf.ContactPhone, d.historyLimit)
	if err != nil {
		// a reply without history beats no reply
		d.logger.Warn("dispatch: load history", zap.String("contact", buf.ContactPhone), zap.Error(err))
		history = nil
	}

	genCtx, cancel := context.WithTimeout(ctx, d.agentTimeout)
	defer cancel()

	reply, err := d.generator.GenerateReply(genCtx, agent.Request{
		Business:  business,
		Instance:  instance,
		Contact:   contact,
		History:   history,
		Fragments: buf.Fragments,
	})
	if err != nil {
		return fmt.Errorf("dispatch: generate reply: %w", err)
	}

	if err := d.sender.Send(ctx, instance, messaging.Message{
		To:       buf.ContactPhone,
		Text:     reply.Text,
		MediaURL: reply.MediaURL,
	}); err != nil {
		return fmt.Errorf("dispatch: send reply: %w", err)
	}

	if err := d.conversations.Append(ctx, domain.ConversationEvent{
		BusinessID:   buf.BusinessID,
		ContactPhone: buf.ContactPhone,
		Role:         domain.RoleAssistant,
		Text:         reply.Text,
		MediaURL:     reply.MediaURL,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		d.logger.Warn("dispatch: append assistant event", zap.String("contact", buf.ContactPhone), zap.Error(err))
	}

	// the reply is out; a failed delete means the claim holds the row until
	// it lapses, and delivery stays at-least-once
	if err := d.buffers.Delete(ctx, buf.ID); err != nil {
		d.logger.Warn("dispatch: delete buffer after reply", zap.String("buffer_id", buf.ID.String()), zap.Error(err))
	}

	d.locks.ClearProcessing(ctx, buf.BusinessID, buf.ContactPhone)
	d.locks.ClearActive(ctx, buf.BusinessID, buf.ContactPhone)

	d.publish(ctx, events.PipelineEvent{
		Type:         events.TypeReplySent,
		BusinessID:   buf.BusinessID,
		ContactPhone: buf.ContactPhone,
		BufferID:     buf.ID,
		Fragments:    len(buf.Fragments),
	})
	d.notifier.Notify(business.WebhookURL, map[string]any{
		"event":         events.TypeReplySent,
		"business_id":   buf.BusinessID,
		"contact_phone": buf.ContactPhone,
		"inbound":       buf.CombinedText(),
		"reply":         reply.Text,
	})

	return nil
}

// Discard drops a buffer that must never produce a reply. The row is
// deleted, not released, so the sweeper never picks it up again.
func (d *Dispatcher) Discard(ctx context.Context, buf *domain.MessageBuffer, reason string) {
	if err := d.buffers.Delete(ctx, buf.ID); err != nil {
		d.logger.Warn("dispatch: delete stale buffer",
			zap.String("buffer_id", buf.ID.String()),
			zap.String("reason", reason),
			zap.Error(err))
	}
	d.locks.ClearProcessing(ctx, buf.BusinessID, buf.ContactPhone)
	d.locks.ClearActive(ctx, buf.BusinessID, buf.ContactPhone)

	d.logger.Info("dispatch: buffer discarded",
		zap.String("buffer_id", buf.ID.String()),
		zap.String("business_id", buf.BusinessID.String()),
		zap.String("reason", reason))

	d.publish(ctx, events.PipelineEvent{
		Type:         events.TypeBufferDiscarded,
		BusinessID:   buf.BusinessID,
		ContactPhone: buf.ContactPhone,
		BufferID:     buf.ID,
		Error:        reason,
	})
}

// OnResponseExhausted runs after the final failed attempt: the claim is
// released so a later sweep can retry the conversation from scratch.
func (d *Dispatcher) OnResponseExhausted(ctx context.Context, job *jobs.Job, cause error) {
	var payload ResponsePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		d.logger.Error("dispatch: unmarshal exhausted payload", zap.Error(err))
		return
	}
	buf := payload.Buffer

	if err := d.buffers.ReleaseClaim(ctx, buf.ID); err != nil {
		d.logger.Warn("dispatch: release claim after exhausted attempts",
			zap.String("buffer_id", buf.ID.String()), zap.Error(err))
	}
	d.locks.ClearProcessing(ctx, buf.BusinessID, buf.ContactPhone)

	d.publish(ctx, events.PipelineEvent{
		Type:         events.TypeReplyFailed,
		BusinessID:   buf.BusinessID,
		ContactPhone: buf.ContactPhone,
		BufferID:     buf.ID,
		Fragments:    len(buf.Fragments),
		Error:        cause.Error(),
	})
}

func (d *Dispatcher) publish(ctx context.Context, event events.PipelineEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("dispatch: publish pipeline event", zap.String("type", event.Type), zap.Error(err))
	}
}
