package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/whatsapp-reply-pipeline/internal/config"
)

// Client wraps a go-redis client shared by the lock store and job queues.
type Client struct {
	inner *redis.Client
}

// NewClient creates a new redis client from config. Unlike the other
// infrastructure clients it does not ping on construction: the lifecycle
// manager probes reachability explicitly and the process must be able to
// start in degraded mode when redis is down.
func NewClient(cfg config.RedisConfig) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})
	return &Client{inner: client}
}

// Probe checks reachability within the given timeout.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.inner.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis: probe: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner exposes the raw redis client.
func (c *Client) Inner() *redis.Client {
	return c.inner
}
