package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/internal/config"
	"github.com/acme/whatsapp-reply-pipeline/internal/dispatch"
	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/jobs"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// Sweeper finds buffers whose accumulation window has elapsed, claims them
// one by one, and hands each to the dispatcher. Any number of sweepers may
// run concurrently across processes: the conditional claim guarantees each
// expired buffer is taken exactly once per claim period.
type Sweeper struct {
	buffers    repository.BufferRepository
	businesses repository.BusinessRepository
	locks      lock.Store
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger

	interval      time.Duration
	claimDuration time.Duration
	processingTTL time.Duration
	batch         int
}

// New constructs a sweeper.
func New(
	buffers repository.BufferRepository,
	businesses repository.BusinessRepository,
	locks lock.Store,
	dispatcher *dispatch.Dispatcher,
	cfg config.BufferConfig,
	lg *logger.Logger,
) *Sweeper {
	return &Sweeper{
		buffers:       buffers,
		businesses:    businesses,
		locks:         locks,
		dispatcher:    dispatcher,
		logger:        lg,
		interval:      cfg.SweepInterval,
		claimDuration: cfg.ClaimDuration,
		processingTTL: cfg.ProcessingTTL,
		batch:         cfg.SweepBatch,
	}
}

// HandleSweepJob is the expired-buffers queue handler.
func (s *Sweeper) HandleSweepJob(ctx context.Context, _ *jobs.Job) error {
	return s.Sweep(ctx)
}

// Run is the degraded-mode loop: a local ticker drives sweeps when the
// queue backend is unavailable. Blocks until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper: running on local ticker", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweeper: sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass over expired buffers. A failure on one buffer
// never blocks the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	tracer := otel.Tracer("replypipe.sweeper")
	ctx, span := tracer.Start(ctx, "sweeper.tick")
	defer span.End()

	now := time.Now().UTC()
	expired, err := s.buffers.FindExpired(ctx, now, s.batch)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sweeper: find expired: %w", err)
	}
	span.SetAttributes(attribute.Int("buffers.expired", len(expired)))
	if len(expired) == 0 {
		return nil
	}

	dispatched := 0
	for _, buf := range expired {
		if ctx.Err() != nil {
			break
		}
		if s.handleOne(ctx, buf, now) {
			dispatched++
		}
	}
	span.SetAttributes(attribute.Int("buffers.dispatched", dispatched))

	s.logger.Info("sweeper: pass complete",
		zap.Int("expired", len(expired)),
		zap.Int("dispatched", dispatched))
	return nil
}

// handleOne claims and dispatches a single buffer. Returns true when a
// reply was dispatched or processed.
func (s *Sweeper) handleOne(ctx context.Context, buf *domain.MessageBuffer, now time.Time) bool {
	claimed, err := s.buffers.Claim(ctx, buf.ID, now, now.Add(s.claimDuration))
	if err != nil {
		s.logger.Error("sweeper: claim buffer", zap.String("buffer_id", buf.ID.String()), zap.Error(err))
		return false
	}
	if !claimed {
		// another sweeper won the row
		return false
	}

	if stale, reason := s.isStale(ctx, buf); stale {
		s.dispatcher.Discard(ctx, buf, reason)
		return false
	}

	if !s.locks.TryAcquireProcessing(ctx, buf.BusinessID, buf.ContactPhone, s.processingTTL) {
		// a reply for this contact is already in flight somewhere; give
		// the row back so a later sweep retries once the flag lapses
		if err := s.buffers.ReleaseClaim(ctx, buf.ID); err != nil {
			s.logger.Warn("sweeper: release claim", zap.String("buffer_id", buf.ID.String()), zap.Error(err))
		}
		return false
	}

	if s.dispatcher.Dispatch(ctx, buf) {
		return true
	}

	// degraded path: no queue, process inline
	if err := s.dispatcher.ProcessDirect(ctx, buf); err != nil {
		s.logger.Error("sweeper: direct processing failed",
			zap.String("buffer_id", buf.ID.String()),
			zap.Error(err))
		if rerr := s.buffers.ReleaseClaim(ctx, buf.ID); rerr != nil {
			s.logger.Warn("sweeper: release claim", zap.String("buffer_id", buf.ID.String()), zap.Error(rerr))
		}
		s.locks.ClearProcessing(ctx, buf.BusinessID, buf.ContactPhone)
		return false
	}
	return true
}

// isStale reports whether the buffer's tenant can no longer receive a bot
// reply, with the reason.
func (s *Sweeper) isStale(ctx context.Context, buf *domain.MessageBuffer) (bool, string) {
	business, err := s.businesses.Get(ctx, buf.BusinessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, "business no longer exists"
		}
		// transient lookup failure is not staleness; the dispatcher
		// re-checks and the retry policy covers it
		s.logger.Warn("sweeper: load business", zap.String("business_id", buf.BusinessID.String()), zap.Error(err))
		return false, ""
	}
	if !business.BotEnabled {
		return true, "bot disabled"
	}
	return false, ""
}
