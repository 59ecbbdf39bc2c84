package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores JSON-encoded values in a shared Redis instance
type Redis[T any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis creates a cache whose keys are namespaced by prefix
func NewRedis[T any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix, ttl: ttl}
}

// Connect creates a client for addr and verifies it answers PING
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Get retrieves a value from the cache
func (c *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	var value T
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, false
	}
	if err != nil {
		slog.WarnContext(ctx, "Cache read failed", "key", key, "error", err)
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		slog.WarnContext(ctx, "Discarding undecodable cache entry", "key", key, "error", err)
		return value, false
	}
	return value, true
}

// Set stores a value in the cache
func (c *Redis[T]) Set(ctx context.Context, key string, data T) {
	encoded, err := json.Marshal(data)
	if err != nil {
		slog.WarnContext(ctx, "Cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, encoded, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "Cache write failed", "key", key, "error", err)
	}
}

// Delete removes keys from the cache
func (c *Redis[T]) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefix + key
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		slog.WarnContext(ctx, "Cache delete failed", "keys", keys, "error", err)
	}
}
