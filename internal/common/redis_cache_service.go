package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTierStore implements TierStore using Redis. It is the persistent tier:
// entries survive server restarts and are shared by every instance.
type RedisTierStore struct {
	client *redis.Client
}

// Ensure RedisTierStore implements TierStore
var _ TierStore = (*RedisTierStore)(nil)

func NewRedisTierStore(client *redis.Client) *RedisTierStore {
	return &RedisTierStore{client: client}
}

func (r *RedisTierStore) Name() string { return "redis" }

// Get retrieves a value from Redis by key
func (r *RedisTierStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores a value in Redis with the given key and ttl
func (r *RedisTierStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from Redis by key
func (r *RedisTierStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large databases are never blocked by KEYS
func (r *RedisTierStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return keys, nil
}

// TTL returns the remaining time to live of a key
func (r *RedisTierStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

// Close closes the Redis connection
func (r *RedisTierStore) Close() error {
	return r.client.Close()
}
