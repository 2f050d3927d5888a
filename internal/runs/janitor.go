package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// AlertRaiser is the alert capability the janitor reports through.
type AlertRaiser interface {
	Raise(ctx context.Context, severity models.Severity, message, runID string) (models.Alert, error)
}

// Janitor force-fails runs that stayed running past their staleness budget.
type Janitor struct {
	repo         Repository
	tracker      *Tracker
	alerts       AlertRaiser
	clock        clock.Clock
	defaultStale time.Duration
	interval     time.Duration
	logger       *slog.Logger
}

// NewJanitor builds a janitor. A run is stale after twice its job's expected
// duration, or after defaultStale when the job has none.
func NewJanitor(repo Repository, tracker *Tracker, alerts AlertRaiser, c clock.Clock, defaultStale, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		repo:         repo,
		tracker:      tracker,
		alerts:       alerts,
		clock:        clock.OrSystem(c),
		defaultStale: defaultStale,
		interval:     interval,
		logger:       logger,
	}
}

// Sweep closes every stale running run as failed and returns the closed runs.
func (j *Janitor) Sweep(ctx context.Context) ([]models.Run, error) {
	running, err := j.repo.ListRunningRuns(ctx)
	if err != nil {
		return nil, err
	}

	now := j.clock.Now()
	var closed []models.Run
	var errs []error
	for _, run := range running {
		budget := j.budget(ctx, run.JobName)
		age := now.Sub(run.StartedAt)
		if age <= budget {
			continue
		}

		msg := fmt.Sprintf("run abandoned: job %s ran for %s, over the %s budget", run.JobName, age.Round(time.Second), budget)
		final, err := j.tracker.Close(ctx, run.ID, models.RunFailed, models.RunCounts{
			IssuesDetected: run.IssuesDetected,
			FixesApplied:   run.FixesApplied,
			Error:          msg,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed = append(closed, final)
		j.logger.Warn("stale run force-closed", slog.String("run_id", run.ID), slog.String("job", run.JobName), slog.Duration("age", age))

		if _, err := j.alerts.Raise(ctx, models.SeverityHigh, msg, run.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return closed, utils.NewAppError("runs.Sweep", "janitor sweep incomplete", errors.Join(errs...))
	}
	return closed, nil
}

func (j *Janitor) budget(ctx context.Context, jobName string) time.Duration {
	job, err := j.repo.GetJob(ctx, jobName)
	if err == nil && job.ExpectedDuration > 0 {
		return 2 * job.ExpectedDuration
	}
	return j.defaultStale
}

// Run sweeps on every interval tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", slog.Any("error", err))
			} else if len(closed) > 0 {
				j.logger.Info("janitor sweep closed stale runs", slog.Int("count", len(closed)))
			}
		}
	}
}
