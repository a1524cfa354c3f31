package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// RedisStore keeps the flags in redis with store-side expiry. When redis is
// unreachable a call falls back to an embedded in-process map with the same
// TTL semantics. That keeps a single process safe but loses cross-process
// mutual exclusion, which is logged rather than hidden.
type RedisStore struct {
	client   *redis.Client
	fallback *MemoryStore
	prefix   string
	logger   *logger.Logger

	warnOnce sync.Once
}

// NewRedisStore constructs a redis-backed store with a degraded fallback.
func NewRedisStore(client *redis.Client, prefix string, lg *logger.Logger) *RedisStore {
	return &RedisStore{
		client:   client,
		fallback: NewMemoryStore(prefix),
		prefix:   prefix,
		logger:   lg,
	}
}

// IsActive reports whether the buffer-active flag is set.
func (s *RedisStore) IsActive(ctx context.Context, businessID uuid.UUID, phone string) bool {
	key := activeKey(s.prefix, businessID, phone)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.degrade(err)
		return s.fallback.IsActive(ctx, businessID, phone)
	}
	return n > 0
}

// SetActive marks the buffer-active flag with the given TTL.
func (s *RedisStore) SetActive(ctx context.Context, businessID uuid.UUID, phone string, ttl time.Duration) {
	key := activeKey(s.prefix, businessID, phone)
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		s.degrade(err)
		s.fallback.SetActive(ctx, businessID, phone, ttl)
	}
}

// ClearActive removes the buffer-active flag.
func (s *RedisStore) ClearActive(ctx context.Context, businessID uuid.UUID, phone string) {
	key := activeKey(s.prefix, businessID, phone)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.degrade(err)
	}
	s.fallback.ClearActive(ctx, businessID, phone)
}

// IsProcessing reports whether the processing flag is set.
func (s *RedisStore) IsProcessing(ctx context.Context, businessID uuid.UUID, phone string) bool {
	key := processingKey(s.prefix, businessID, phone)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.degrade(err)
		return s.fallback.IsProcessing(ctx, businessID, phone)
	}
	return n > 0
}

// TryAcquireProcessing atomically sets the processing flag if absent.
func (s *RedisStore) TryAcquireProcessing(ctx context.Context, businessID uuid.UUID, phone string, ttl time.Duration) bool {
	key := processingKey(s.prefix, businessID, phone)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		s.degrade(err)
		return s.fallback.TryAcquireProcessing(ctx, businessID, phone, ttl)
	}
	return ok
}

// ClearProcessing removes the processing flag.
func (s *RedisStore) ClearProcessing(ctx context.Context, businessID uuid.UUID, phone string) {
	key := processingKey(s.prefix, businessID, phone)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.degrade(err)
	}
	s.fallback.ClearProcessing(ctx, businessID, phone)
}

func (s *RedisStore) degrade(err error) {
	s.warnOnce.Do(func() {
		s.logger.Warn("lock store: redis unreachable, falling back to in-process flags; cross-process exclusion is lost until redis recovers",
			zap.Error(err))
	})
}
