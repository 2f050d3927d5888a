// Package cache provides the key/value primitives used for per-path locks and
// report caching. MemoryProvider serves a single replica; RedisProvider is
// shared across replicas.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the engine.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")
