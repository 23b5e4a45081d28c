package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

// RedisStore implements KeyValue on top of go-redis. Every operation runs
// under a short timeout so a degraded Redis cannot stall the request path.
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedis wraps an existing client. opTimeout bounds each operation;
// zero means 2s.
func NewRedis(rdb *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &RedisStore{rdb: rdb, timeout: opTimeout}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the value at key, or domain.ErrNotFound on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("op=store.Get key=%s: %w", key, err)
	}
	return b, nil
}

// Set stores value at key with the given TTL (0 means no expiry).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=store.Set key=%s: %w", key, err)
	}
	return nil
}

// IncrBy adjusts the counter at key atomically. The TTL is set only when the
// increment created the key, mirroring the counter-per-window usage where the
// first request of a window establishes the expiry.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("op=store.IncrBy key=%s: %w", key, err)
	}
	return incr.Val(), nil
}

// Delete removes keys and returns how many existed.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("op=store.Delete: %w", err)
	}
	return n, nil
}

// Keys returns all keys with the given prefix using SCAN, never KEYS.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=store.Keys prefix=%s: %w", prefix, err)
	}
	return out, nil
}

// Ping checks connectivity; used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
