package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// State is the pipeline runtime state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateProbing       State = "PROBING"
	StateQueueBacked   State = "QUEUE_BACKED"
	StateDegraded      State = "DEGRADED"
	StateShuttingDown  State = "SHUTTING_DOWN"
	StateStopped       State = "STOPPED"
)

// QueueRuntime is the slice of the job layer the lifecycle drives.
type QueueRuntime interface {
	Probe(ctx context.Context, timeout time.Duration) error
	Init(ctx context.Context) error
	Close(ctx context.Context) error
}

// Runner is a degraded-mode loop. It must block until its context is
// canceled.
type Runner func(ctx context.Context)

// ScheduleFunc registers the recurring jobs once the queue backend is
// confirmed reachable.
type ScheduleFunc func() error

// Manager owns startup and shutdown ordering. Start probes the queue
// backend exactly once and commits to queue-backed or degraded operation;
// there is no mid-flight switching between the two.
type Manager struct {
	queue        QueueRuntime
	schedule     ScheduleFunc
	runners      []Runner
	probeTimeout time.Duration
	logger       *logger.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs the lifecycle manager. schedule may be nil when no
// recurring jobs are needed; runners are only started in degraded mode.
func NewManager(queue QueueRuntime, schedule ScheduleFunc, runners []Runner, probeTimeout time.Duration, lg *logger.Logger) *Manager {
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	return &Manager{
		queue:        queue,
		schedule:     schedule,
		runners:      runners,
		probeTimeout: probeTimeout,
		logger:       lg,
		state:        StateUninitialized,
	}
}

// State returns the current runtime state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Degraded reports whether the pipeline is running without the queue
// backend.
func (m *Manager) Degraded() bool {
	return m.State() == StateDegraded
}

// Start probes the queue backend and brings up workers accordingly. It is
// an error to call Start twice.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: start from state %s", state)
	}
	m.state = StateProbing
	m.mu.Unlock()

	if err := m.queue.Probe(ctx, m.probeTimeout); err != nil {
		m.logger.Warn("lifecycle: queue backend unreachable, entering degraded mode", zap.Error(err))
		return m.startDegraded(ctx)
	}

	if err := m.startQueueBacked(ctx); err != nil {
		// a reachable backend whose worker startup or schedule registration
		// fails gets the same treatment as an unreachable one
		m.logger.Warn("lifecycle: queue startup failed, entering degraded mode", zap.Error(err))
		if cerr := m.queue.Close(ctx); cerr != nil {
			m.logger.Warn("lifecycle: close queue after failed startup", zap.Error(cerr))
		}
		return m.startDegraded(ctx)
	}
	return nil
}

func (m *Manager) startQueueBacked(ctx context.Context) error {
	if err := m.queue.Init(ctx); err != nil {
		return fmt.Errorf("lifecycle: init queue workers: %w", err)
	}
	if m.schedule != nil {
		if err := m.schedule(); err != nil {
			return fmt.Errorf("lifecycle: register recurring jobs: %w", err)
		}
	}

	m.mu.Lock()
	m.state = StateQueueBacked
	m.mu.Unlock()
	m.logger.Info("lifecycle: queue-backed mode")
	return nil
}

func (m *Manager) startDegraded(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.cancel = cancel
	m.state = StateDegraded
	m.mu.Unlock()

	for _, r := range m.runners {
		m.wg.Add(1)
		go func(r Runner) {
			defer m.wg.Done()
			r(runCtx)
		}(r)
	}
	m.logger.Info("lifecycle: degraded mode", zap.Int("runners", len(m.runners)))
	return nil
}

// Shutdown stops workers, waiting for in-flight work up to the context
// deadline. Safe to call from any state and safe to call twice.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateShuttingDown, StateStopped:
		m.mu.Unlock()
		return nil
	}
	prev := m.state
	m.state = StateShuttingDown
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("lifecycle: shutting down", zap.String("from", string(prev)))

	var err error
	if cancel != nil {
		cancel()
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("lifecycle: degraded runners did not drain: %w", ctx.Err())
		}
	}

	if cerr := m.queue.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.logger.Info("lifecycle: stopped")
	return err
}
