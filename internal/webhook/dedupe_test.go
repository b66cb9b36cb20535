package webhook

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopDeduplicator(t *testing.T) {
	var d Deduplicator = NopDeduplicator{}
	require.NoError(t, d.MarkSeen(context.Background(), "k"))
	seen, err := d.Seen(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeduplicator(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST is not set, skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	d := NewRedisDeduplicator(client, time.Minute)
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { client.Del(ctx, d.prefix+key) })

	seen, err := d.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.MarkSeen(ctx, key))

	seen, err = d.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, d.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
