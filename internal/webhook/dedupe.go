package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers deliveries that were already reconciled so repeats
// can be acknowledged without another provider lookup. It is an optimisation
// only; the ledger's idempotent transitions are what keep settlement correct.
type Deduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

type NopDeduplicator struct{}

func (NopDeduplicator) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopDeduplicator) MarkSeen(context.Context, string) error     { return nil }

type RedisDeduplicator struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, prefix: "settlement:webhook:", ttl: ttl}
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	err := d.client.Get(ctx, d.prefix+key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedupe: failed to read %s: %w", key, err)
	}
	return true, nil
}

func (d *RedisDeduplicator) MarkSeen(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, d.prefix+key, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe: failed to mark %s: %w", key, err)
	}
	return nil
}
