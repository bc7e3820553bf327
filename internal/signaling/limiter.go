package signaling

import (
	"context"
	"time"

	"smart-care/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter caps concurrent calls per user with a Redis sorted set of call ids.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

// NewRedisLimiter allows limit concurrent calls per user. ttl should outlive the
// longest expected call; it only matters when a call is never settled.
func NewRedisLimiter(rdb redis.Scripter, prefix string, limit int, ttl time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) key(userID string) string { return l.prefix + ":busy:" + userID }

func (l *RedisLimiter) Acquire(ctx context.Context, userID, callID string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, l.key(userID), callID, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, userID, callID string) error {
	return utils.ReleaseSlot(ctx, l.rdb, l.key(userID), callID)
}
