// Package heartbeat records liveness pings and runs the always-on emitter.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Repository is the persistence used by Store.
type Repository interface {
	InsertHeartbeat(ctx context.Context, hb models.Heartbeat) error
	ListHeartbeatsSince(ctx context.Context, since time.Time) ([]models.Heartbeat, error)
	LatestHeartbeat(ctx context.Context) (models.Heartbeat, bool, error)
}

// Store is the append-only heartbeat log.
type Store struct {
	repo  Repository
	clock clock.Clock
}

// NewStore wraps repo.
func NewStore(repo Repository, c clock.Clock) *Store {
	return &Store{repo: repo, clock: clock.OrSystem(c)}
}

// Record appends a heartbeat stamped with the current time.
func (s *Store) Record(ctx context.Context, source string) (models.Heartbeat, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return models.Heartbeat{}, utils.Validation("heartbeat.Record", "source is required")
	}
	hb := models.Heartbeat{ID: uuid.NewString(), Source: source, Timestamp: s.clock.Now()}
	err := s.repo.InsertHeartbeat(ctx, hb)
	metrics.ObserveHeartbeat(err)
	if err != nil {
		return models.Heartbeat{}, err
	}
	return hb, nil
}

// Query returns heartbeats at or after since, oldest first.
func (s *Store) Query(ctx context.Context, since time.Time) ([]models.Heartbeat, error) {
	return s.repo.ListHeartbeatsSince(ctx, since)
}

// Latest returns the newest heartbeat, if any.
func (s *Store) Latest(ctx context.Context) (models.Heartbeat, bool, error) {
	return s.repo.LatestHeartbeat(ctx)
}

// Emitter records a heartbeat on a fixed interval until its context ends.
type Emitter struct {
	store    *Store
	source   string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEmitter builds an emitter. Each write is bounded by timeout.
func NewEmitter(store *Store, source string, interval, timeout time.Duration, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Emitter{store: store, source: source, interval: interval, timeout: timeout, logger: logger}
}

// Run emits immediately and then on every tick. A failed write is logged and
// the next tick tries again; Run only returns when ctx is done.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.beat(ctx)
		}
	}
}

func (e *Emitter) beat(ctx context.Context) {
	writeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if _, err := e.store.Record(writeCtx, e.source); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("heartbeat write failed, retrying next tick",
			slog.String("source", e.source), slog.Any("error", err))
		return
	}
	e.logger.Debug("heartbeat recorded", slog.String("source", e.source))
}
