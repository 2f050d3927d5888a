// Package ratelimit implements fixed-window counters whose state lives in a
// shared store, so every replica sees the same windows.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// WindowStore persists per-key window counters.
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, windowStart time.Time) (int, error)
	ReleaseWindow(ctx context.Context, key string, windowStart time.Time) error
}

// Limiter allows at most max events per key inside each window.
type Limiter struct {
	store  WindowStore
	max    int
	window time.Duration
	clock  clock.Clock
}

// New builds a limiter. limit <= 0 disables limiting.
func New(store WindowStore, limit int, window time.Duration, c clock.Clock) *Limiter {
	return &Limiter{store: store, max: limit, window: window, clock: clock.OrSystem(c)}
}

// Allow counts one event for key and returns ErrRateLimited once the window is exhausted.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.max <= 0 || l.window <= 0 {
		return nil
	}
	start := l.clock.Now().Truncate(l.window)
	count, err := l.store.IncrementWindow(ctx, key, start)
	if err != nil {
		return utils.Wrap("ratelimit.Allow", "count window for "+key, nil, err)
	}
	if count > l.max {
		retry := start.Add(l.window).Sub(l.clock.Now())
		return &utils.AppError{
			Op:   "ratelimit.Allow",
			Msg:  key + " exceeded " + strconv.Itoa(l.max) + " requests per " + l.window.String() + ", retry in " + retry.Round(time.Second).String(),
			Kind: utils.ErrRateLimited,
		}
	}
	return nil
}

// Release returns one event to the current window of key. Callers use it when
// the counted request was refused further down the line.
func (l *Limiter) Release(ctx context.Context, key string) error {
	if l == nil || l.max <= 0 || l.window <= 0 {
		return nil
	}
	return l.store.ReleaseWindow(ctx, key, l.clock.Now().Truncate(l.window))
}
