package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "threadbot:update:"

// UpdateDeduplicator remembers Telegram update ids for a TTL so a redelivered
// webhook update is handled once.
type UpdateDeduplicator struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

func New(rdb *redis.Client, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl, prefix: DefaultPrefix}
}

// MarkFirst reports whether this is the first time updateID was seen.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	ok, err := d.redis.SetNX(ctx, d.key(updateID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

func (d *UpdateDeduplicator) Ping(ctx context.Context) error {
	if err := d.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (d *UpdateDeduplicator) key(updateID int64) string {
	return fmt.Sprintf("%s%d", d.prefix, updateID)
}
