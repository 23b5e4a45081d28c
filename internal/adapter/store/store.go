// Package store provides the shared key-value backend used by the quota
// manager and the response cache. The same interface covers both; connection
// failures are ordinary errors that callers recover from locally.
package store

import (
	"context"
	"time"
)

// KeyValue is the shared backend port. Get returns domain.ErrNotFound for a
// missing key so callers can tell a miss from an outage.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrBy atomically adjusts a counter and returns the new value. The TTL
	// is applied when the key is created by this call.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
