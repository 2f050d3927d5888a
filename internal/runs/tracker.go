// Package runs tracks the lifecycle of diagnostic runs and reconciles runs
// that were abandoned while running.
package runs

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

// Repository is the persistence used by Tracker and Janitor.
type Repository interface {
	InsertRun(ctx context.Context, run models.Run) error
	CloseRun(ctx context.Context, id string, status models.RunStatus, durationMs int64, counts models.RunCounts) (bool, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]models.Run, error)
	ListRunsSince(ctx context.Context, since time.Time) ([]models.Run, error)
	ListRunningRuns(ctx context.Context) ([]models.Run, error)
	GetJob(ctx context.Context, name string) (models.Job, error)
	TouchJobLastRun(ctx context.Context, name string, at time.Time) error
}

// Tracker opens and closes runs.
type Tracker struct {
	repo   Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewTracker wraps repo.
func NewTracker(repo Repository, c clock.Clock, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, clock: clock.OrSystem(c), logger: logger}
}

// Open starts a running run for jobName. It fails with ErrConflict while the
// job already has a running run.
func (t *Tracker) Open(ctx context.Context, jobName string) (models.Run, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return models.Run{}, utils.Validation("runs.Open", "job name is required")
	}
	run := models.Run{
		ID:        uuid.NewString(),
		JobName:   jobName,
		Status:    models.RunRunning,
		StartedAt: t.clock.Now(),
	}
	if err := t.repo.InsertRun(ctx, run); err != nil {
		return models.Run{}, err
	}
	t.logger.Info("run opened", slog.String("run_id", run.ID), slog.String("job", jobName))
	return run, nil
}

// Close moves a running run to a terminal status. Closing a run that is
// already terminal returns it unchanged.
func (t *Tracker) Close(ctx context.Context, runID string, status models.RunStatus, counts models.RunCounts) (models.Run, error) {
	const op = "runs.Close"
	if !status.Terminal() {
		return models.Run{}, utils.Validation(op, "status "+string(status)+" is not terminal")
	}
	if counts.IssuesDetected < 0 || counts.FixesApplied < 0 {
		return models.Run{}, utils.Validation(op, "counts must not be negative")
	}

	current, err := t.repo.GetRun(ctx, runID)
	if err != nil {
		return models.Run{}, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	now := t.clock.Now()
	duration := now.Sub(current.StartedAt)
	if duration < 0 {
		duration = 0
	}
	closed, err := t.repo.CloseRun(ctx, runID, status, duration.Milliseconds(), counts)
	if err != nil {
		return models.Run{}, err
	}
	final, err := t.repo.GetRun(ctx, runID)
	if err != nil {
		return models.Run{}, err
	}
	if !closed {
		// Another closer won the race; its result stands.
		return final, nil
	}

	if err := t.repo.TouchJobLastRun(ctx, final.JobName, now); err != nil {
		t.logger.Warn("failed to update job last run", slog.String("job", final.JobName), slog.Any("error", err))
	}
	metrics.ObserveRun(string(status), duration)
	t.logger.Info("run closed",
		slog.String("run_id", runID),
		slog.String("job", final.JobName),
		slog.String("status", string(status)),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Int("issues", counts.IssuesDetected),
		slog.Int("fixes", counts.FixesApplied))
	return final, nil
}

// Get loads a run.
func (t *Tracker) Get(ctx context.Context, runID string) (models.Run, error) {
	return t.repo.GetRun(ctx, runID)
}

// ListRecent returns runs newest first.
func (t *Tracker) ListRecent(ctx context.Context, limit, offset int) ([]models.Run, error) {
	if limit <= 0 {
		return nil, utils.Validation("runs.ListRecent", "limit must be positive")
	}
	if offset < 0 {
		return nil, utils.Validation("runs.ListRecent", "offset must not be negative")
	}
	return t.repo.ListRuns(ctx, limit, offset)
}

// ListSince returns runs started at or after since, newest first.
func (t *Tracker) ListSince(ctx context.Context, since time.Time) ([]models.Run, error) {
	return t.repo.ListRunsSince(ctx, since)
}
