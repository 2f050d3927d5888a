package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Triggerer starts runs.
type Triggerer interface {
	Trigger(ctx context.Context, jobName string) (models.Run, error)
}

// Scheduler triggers jobs on their cron schedule. Jobs with an empty schedule
// are only started on demand.
type Scheduler struct {
	engine    Triggerer
	jobs      JobSource
	clock     clock.Clock
	tick      time.Duration
	logger    *slog.Logger
	attempted map[string]time.Time
	invalid   map[string]string
}

// NewScheduler polls jobs every tick.
func NewScheduler(engine Triggerer, jobs JobSource, c clock.Clock, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:    engine,
		jobs:      jobs,
		clock:     clock.OrSystem(c),
		tick:      tick,
		logger:    logger,
		attempted: make(map[string]time.Time),
		invalid:   make(map[string]string),
	}
}

// ParseSchedule accepts a standard five-field cron expression, an optional
// CRON_TZ= prefix, and the descriptors "@hourly", "@daily", "@weekly",
// "@monthly", "@yearly" and "@every <duration>".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, utils.Validation("engine.ParseSchedule", "schedule is empty")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, utils.Wrap("engine.ParseSchedule", "parse schedule "+spec, utils.ErrValidation, err)
	}
	return sched, nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick triggers every due job once and returns the runs it started.
func (s *Scheduler) Tick(ctx context.Context) []models.Run {
	jobs, err := s.jobs.ListJobs(ctx, true)
	if err != nil {
		s.logger.Warn("scheduler could not list jobs", slog.Any("error", err))
		return nil
	}

	now := s.clock.Now()
	var started []models.Run
	for _, job := range jobs {
		sched, ok := s.schedule(job)
		if !ok || !s.due(job, sched, now) {
			continue
		}
		s.attempted[job.Name] = now
		run, err := s.engine.Trigger(ctx, job.Name)
		switch {
		case err == nil:
			s.logger.Info("scheduled run started", slog.String("job", job.Name), slog.String("run_id", run.ID))
			started = append(started, run)
		case utils.KindOf(err) == utils.ErrConflict:
			s.logger.Debug("scheduled run skipped", slog.String("job", job.Name), slog.Any("error", err))
		default:
			s.logger.Warn("scheduled run failed to start", slog.String("job", job.Name), slog.Any("error", err))
		}
	}
	return started
}

func (s *Scheduler) schedule(job models.Job) (cron.Schedule, bool) {
	if strings.TrimSpace(job.Schedule) == "" {
		return nil, false
	}
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		if s.invalid[job.Name] != job.Schedule {
			s.invalid[job.Name] = job.Schedule
			s.logger.Warn("job schedule is invalid, not scheduling", slog.String("job", job.Name),
				slog.String("schedule", job.Schedule), slog.Any("error", err))
		}
		return nil, false
	}
	delete(s.invalid, job.Name)
	return sched, true
}

// due reports whether the schedule has fired since the job last ran or was
// last attempted. A job that never ran is due at once.
func (s *Scheduler) due(job models.Job, sched cron.Schedule, now time.Time) bool {
	var anchor time.Time
	if job.LastRunAt != nil {
		anchor = *job.LastRunAt
	}
	if last, ok := s.attempted[job.Name]; ok && last.After(anchor) {
		anchor = last
	}
	if anchor.IsZero() {
		return true
	}
	return !now.Before(sched.Next(anchor))
}
