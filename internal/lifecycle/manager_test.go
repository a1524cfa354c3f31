package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

type fakeQueueRuntime struct {
	probeErr    error
	initErr     error
	initCalled  atomic.Bool
	closeCalled atomic.Bool
}

func (f *fakeQueueRuntime) Probe(context.Context, time.Duration) error { return f.probeErr }
func (f *fakeQueueRuntime) Init(context.Context) error {
	f.initCalled.Store(true)
	return f.initErr
}
func (f *fakeQueueRuntime) Close(context.Context) error {
	f.closeCalled.Store(true)
	return nil
}

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func TestStartQueueBacked(t *testing.T) {
	queue := &fakeQueueRuntime{}
	scheduled := false
	runnerStarted := make(chan struct{}, 1)

	m := NewManager(queue, func() error {
		scheduled = true
		return nil
	}, []Runner{func(ctx context.Context) {
		runnerStarted <- struct{}{}
		<-ctx.Done()
	}}, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.State() != StateQueueBacked {
		t.Fatalf("state = %s, want %s", m.State(), StateQueueBacked)
	}
	if !queue.initCalled.Load() {
		t.Error("expected queue workers initialized")
	}
	if !scheduled {
		t.Error("expected recurring jobs registered")
	}
	select {
	case <-runnerStarted:
		t.Error("degraded runners must not start in queue-backed mode")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartDegradedWhenProbeFails(t *testing.T) {
	queue := &fakeQueueRuntime{probeErr: errors.New("connection refused")}
	runnerStarted := make(chan struct{}, 1)

	m := NewManager(queue, nil, []Runner{func(ctx context.Context) {
		runnerStarted <- struct{}{}
		<-ctx.Done()
	}}, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.State() != StateDegraded {
		t.Fatalf("state = %s, want %s", m.State(), StateDegraded)
	}
	if !m.Degraded() {
		t.Error("Degraded() should report true")
	}
	if queue.initCalled.Load() {
		t.Error("queue workers must not start when the backend is unreachable")
	}

	select {
	case <-runnerStarted:
	case <-time.After(time.Second):
		t.Fatal("expected degraded runner to start")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(shutCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state after shutdown = %s, want %s", m.State(), StateStopped)
	}
}

func TestStartDegradedWhenInitFails(t *testing.T) {
	queue := &fakeQueueRuntime{initErr: errors.New("init blew up")}
	runnerStarted := make(chan struct{}, 1)

	m := NewManager(queue, nil, []Runner{func(ctx context.Context) {
		runnerStarted <- struct{}{}
		<-ctx.Done()
	}}, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("init failure must degrade, not abort: %v", err)
	}
	if m.State() != StateDegraded {
		t.Fatalf("state = %s, want %s", m.State(), StateDegraded)
	}
	if !queue.closeCalled.Load() {
		t.Error("expected queue closed after failed startup")
	}

	select {
	case <-runnerStarted:
	case <-time.After(time.Second):
		t.Fatal("expected degraded runner to start")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(shutCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartDegradedWhenScheduleFails(t *testing.T) {
	queue := &fakeQueueRuntime{}

	m := NewManager(queue, func() error {
		return errors.New("schedule rejected")
	}, nil, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("schedule failure must degrade, not abort: %v", err)
	}
	if m.State() != StateDegraded {
		t.Fatalf("state = %s, want %s", m.State(), StateDegraded)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	m := NewManager(&fakeQueueRuntime{}, nil, nil, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	queue := &fakeQueueRuntime{}
	m := NewManager(queue, nil, nil, time.Second, nopLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if !queue.closeCalled.Load() {
		t.Error("expected queue closed")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	m := NewManager(&fakeQueueRuntime{}, nil, nil, time.Second, nopLogger())
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown before start: %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s, want %s", m.State(), StateStopped)
	}
}
