// Package actions records the remediation steps taken inside a run.
package actions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Repository is the persistence used by Log.
type Repository interface {
	InsertAction(ctx context.Context, a models.Action) error
	FinishAction(ctx context.Context, id string, status models.ActionStatus, detail string, at time.Time) (bool, error)
	GetAction(ctx context.Context, id string) (models.Action, error)
	ListActionsByRun(ctx context.Context, runID string) ([]models.Action, error)
	ListActionsSince(ctx context.Context, since time.Time) ([]models.Action, error)
	ActionCounts(ctx context.Context) (models.HistoryStats, error)
}

// Log is the action log.
type Log struct {
	repo  Repository
	clock clock.Clock
}

// NewLog wraps repo.
func NewLog(repo Repository, c clock.Clock) *Log {
	return &Log{repo: repo, clock: clock.OrSystem(c)}
}

// Record creates a pending action for runID.
func (l *Log) Record(ctx context.Context, runID, actionType, target string) (models.Action, error) {
	const op = "actions.Record"
	if strings.TrimSpace(runID) == "" {
		return models.Action{}, utils.Validation(op, "runId is required")
	}
	if strings.TrimSpace(actionType) == "" {
		return models.Action{}, utils.Validation(op, "actionType is required")
	}
	a := models.Action{
		ID:         uuid.NewString(),
		RunID:      runID,
		ActionType: actionType,
		Target:     target,
		Status:     models.ActionPending,
		CreatedAt:  l.clock.Now(),
	}
	if err := l.repo.InsertAction(ctx, a); err != nil {
		return models.Action{}, err
	}
	return a, nil
}

// Finish moves a pending action to a terminal status. A second call fails with
// ErrConflict and leaves the first outcome in place.
func (l *Log) Finish(ctx context.Context, actionID string, status models.ActionStatus, detail string) (models.Action, error) {
	const op = "actions.Finish"
	if !status.Terminal() {
		return models.Action{}, utils.Validation(op, "status "+string(status)+" is not terminal")
	}
	finished, err := l.repo.FinishAction(ctx, actionID, status, detail, l.clock.Now())
	if err != nil {
		return models.Action{}, err
	}
	current, err := l.repo.GetAction(ctx, actionID)
	if err != nil {
		return models.Action{}, err
	}
	if !finished {
		return current, utils.Conflict(op, "action "+actionID+" already finished as "+string(current.Status))
	}
	return current, nil
}

// ListByRun returns a run's actions, newest first.
func (l *Log) ListByRun(ctx context.Context, runID string) ([]models.Action, error) {
	return l.repo.ListActionsByRun(ctx, runID)
}

// ListSince returns actions created at or after since, newest first.
func (l *Log) ListSince(ctx context.Context, since time.Time) ([]models.Action, error) {
	return l.repo.ListActionsSince(ctx, since)
}

// Stats aggregates every recorded action.
func (l *Log) Stats(ctx context.Context) (models.HistoryStats, error) {
	stats, err := l.repo.ActionCounts(ctx)
	if err != nil {
		return models.HistoryStats{}, err
	}
	stats.SuccessRate = SuccessRate(stats.Successful, stats.Attempted)
	return stats, nil
}

// SuccessRate is successful/attempted as a percentage with one decimal.
func SuccessRate(successful, attempted int) float64 {
	if attempted <= 0 {
		return 0
	}
	return utils.RoundTo(float64(successful)/float64(attempted)*100, 1)
}
