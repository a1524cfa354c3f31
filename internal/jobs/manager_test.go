package jobs

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// unreachableClient dials a port nothing listens on, so worker loops spin on
// pop errors until shutdown.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCloseDrainsWorkers(t *testing.T) {
	m := NewManager(unreachableClient(), "test", 10*time.Millisecond, &logger.Logger{Logger: zap.NewNop()})
	m.Register("orders", 2, func(context.Context, *Job) error { return nil }, nil)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseBeforeInit(t *testing.T) {
	m := NewManager(unreachableClient(), "test", 10*time.Millisecond, &logger.Logger{Logger: zap.NewNop()})
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("close before init: %v", err)
	}
}
