// Package report composes the proof report: heartbeat continuity, run and
// action history, alerts and active jobs for a lookback window.
package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/uptime"
)

const (
	DefaultDays = 7
	MaxDays     = 90

	topGaps       = 10
	recentEntries = 10
	cachePrefix   = "mirador-heal:report:"
)

// Source names reported in metadata.degradedSources.
const (
	SourceHeartbeats = "heartbeats"
	SourceRuns       = "runs"
	SourceActions    = "actions"
	SourceAlerts     = "alerts"
	SourceJobs       = "jobs"
)

// Sources is the read-only data the report is built from.
type Sources interface {
	ListHeartbeatsSince(ctx context.Context, since time.Time) ([]models.Heartbeat, error)
	ListRunsSince(ctx context.Context, since time.Time) ([]models.Run, error)
	ListActionsSince(ctx context.Context, since time.Time) ([]models.Action, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]models.Job, error)
}

// Config groups the generator's collaborators.
type Config struct {
	Sources             Sources
	Cache               cache.Provider
	CacheTTL            time.Duration
	Clock               clock.Clock
	Interval            time.Duration
	GapThresholdMinutes float64
	Logger              *slog.Logger
}

// Generator builds proof reports.
type Generator struct {
	sources   Sources
	cache     cache.Provider
	ttl       time.Duration
	clock     clock.Clock
	interval  time.Duration
	threshold float64
	logger    *slog.Logger
}

// NewGenerator builds a generator. A nil cache or zero TTL disables caching.
func NewGenerator(cfg Config) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		sources:   cfg.Sources,
		cache:     cfg.Cache,
		ttl:       cfg.CacheTTL,
		clock:     clock.OrSystem(cfg.Clock),
		interval:  cfg.Interval,
		threshold: cfg.GapThresholdMinutes,
		logger:    cfg.Logger,
	}
}

// ClampDays maps days into 1..MaxDays; non-positive values become DefaultDays.
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// Generate never fails. Each source that cannot be read is listed in
// metadata.degradedSources and its section renders empty.
func (g *Generator) Generate(ctx context.Context, days int) models.Report {
	days = ClampDays(days)
	if cached, ok := g.fromCache(ctx, days); ok {
		return cached
	}

	start := time.Now()
	now := g.clock.Now()
	windowStart := now.Add(-time.Duration(days) * 24 * time.Hour)

	var (
		mu        sync.Mutex
		degraded  []string
		beats     []models.Heartbeat
		runList   []models.Run
		actList   []models.Action
		alertList []models.Alert
		jobList   []models.Job
	)
	fail := func(source string, err error) {
		g.logger.Warn("report source unavailable", slog.String("source", source), slog.Any("error", err))
		mu.Lock()
		degraded = append(degraded, source)
		mu.Unlock()
	}

	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		if beats, err = g.sources.ListHeartbeatsSince(ctx, windowStart); err != nil {
			fail(SourceHeartbeats, err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if runList, err = g.sources.ListRunsSince(ctx, windowStart); err != nil {
			fail(SourceRuns, err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if actList, err = g.sources.ListActionsSince(ctx, windowStart); err != nil {
			fail(SourceActions, err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if alertList, err = g.sources.ListAlerts(ctx, models.AlertFilter{Since: windowStart}); err != nil {
			fail(SourceAlerts, err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if jobList, err = g.sources.ListJobs(ctx, true); err != nil {
			fail(SourceJobs, err)
		}
		return nil
	})
	_ = eg.Wait()

	rep := compose(composeInput{
		now:         now,
		windowStart: windowStart,
		days:        days,
		degraded:    degraded,
		beats:       beats,
		runs:        runList,
		actions:     actList,
		alerts:      alertList,
		jobs:        jobList,
		analysis: uptime.Options{
			Window:              now.Sub(windowStart),
			Interval:            g.interval,
			GapThresholdMinutes: g.threshold,
			Now:                 now,
		},
	})

	metrics.ObserveReport(time.Since(start), degraded)
	if len(degraded) == 0 {
		g.toCache(ctx, days, rep)
	}
	return rep
}

func (g *Generator) fromCache(ctx context.Context, days int) (models.Report, bool) {
	if g.cache == nil || g.ttl <= 0 {
		return models.Report{}, false
	}
	data, err := g.cache.Get(ctx, cacheKey(days))
	if err != nil {
		return models.Report{}, false
	}
	var rep models.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		g.logger.Debug("discarding unreadable cached report", slog.Any("error", err))
		return models.Report{}, false
	}
	return rep, true
}

func (g *Generator) toCache(ctx context.Context, days int, rep models.Report) {
	if g.cache == nil || g.ttl <= 0 {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(days), data, g.ttl); err != nil {
		g.logger.Debug("report cache write failed", slog.Any("error", err))
	}
}

func cacheKey(days int) string {
	return cachePrefix + strconv.Itoa(days)
}
