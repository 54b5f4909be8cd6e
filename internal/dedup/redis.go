package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a shared duplicate-suppression store for deployments where
// several processes act as one device identity. Keys expire instead of being
// evicted FIFO, trading the fixed window for a time-bounded one.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

const defaultTTL = 24 * time.Hour

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// ShouldIgnore records id atomically; a lost race means another process owns
// delivery. On a Redis error it reports false so a notification is processed
// rather than dropped (redelivery is recoverable, a silent drop is not).
func (s *RedisStore) ShouldIgnore(ctx context.Context, id string) bool {
	set, err := s.client.SetNX(ctx, "donky:seen:"+id, 1, s.ttl).Result()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("dedup store unavailable, processing notification", "id", id, "error", err)
		}
		return false
	}
	return !set
}
