// Package lock provides per-key advisory locks over a cache.Provider. With the
// Redis provider the lock holds across replicas.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Unlock releases a held lock.
type Unlock func()

// Locker serialises work on a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// CacheLocker implements Locker with SetNX plus a random owner token.
type CacheLocker struct {
	provider cache.Provider
	ttl      time.Duration
	wait     time.Duration
	poll     time.Duration
	prefix   string
	logger   *slog.Logger
}

// Option customises a CacheLocker.
type Option func(*CacheLocker)

// WithPollInterval sets how often a contended lock is retried.
func WithPollInterval(d time.Duration) Option {
	return func(l *CacheLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *CacheLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewCacheLocker builds a locker. ttl bounds how long a crashed holder can keep
// the lock; wait bounds how long Lock blocks on contention.
func NewCacheLocker(provider cache.Provider, ttl, wait time.Duration, opts ...Option) *CacheLocker {
	l := &CacheLocker{
		provider: provider,
		ttl:      ttl,
		wait:     wait,
		poll:     25 * time.Millisecond,
		prefix:   "mirador-heal:lock:",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is acquired, the wait budget is spent or ctx is done.
func (l *CacheLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	const op = "lock.Lock"
	fullKey := l.prefix + key
	token := []byte(uuid.NewString())

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.provider.SetNX(ctx, fullKey, token, l.ttl)
		if err != nil {
			return nil, utils.Wrap(op, "acquire lock for "+key, nil, err)
		}
		if ok {
			return l.release(fullKey, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, utils.Conflict(op, key+" is locked by another writer")
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, utils.Wrap(op, "waiting for lock on "+key, utils.ErrTimeout, ctx.Err())
			}
			return nil, utils.Wrap(op, "waiting for lock on "+key, nil, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *CacheLocker) release(key string, token []byte) Unlock {
	return func() {
		// Release must succeed even when the caller's context is already done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.provider.CompareAndDelete(ctx, key, token); err != nil {
			l.logger.Warn("failed to release lock", slog.String("key", key), slog.Any("error", err))
		}
	}
}
