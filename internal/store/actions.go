package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const actionColumns = `id, run_id, action_type, target, status, detail, created_at_ms, finished_at_ms`

// InsertAction stores a new action. An unknown run id is reported as not found.
func (s *Store) InsertAction(ctx context.Context, a models.Action) error {
	_, err := s.exec(ctx,
		`INSERT INTO actions (`+actionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.ActionType, a.Target, string(a.Status), a.Detail,
		a.CreatedAt.UnixMilli(), nullMillis(a.FinishedAt))
	if isForeignKeyViolation(err) {
		return utils.NotFound("store.InsertAction", "run "+a.RunID+" not found")
	}
	if err != nil {
		return utils.Wrap("store.InsertAction", "insert action", nil, err)
	}
	return nil
}

// FinishAction moves a pending action to a terminal status. It reports false
// when the action was no longer pending.
func (s *Store) FinishAction(ctx context.Context, id string, status models.ActionStatus, detail string, at time.Time) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE actions SET status = ?, detail = ?, finished_at_ms = ? WHERE id = ? AND status = 'pending'`,
		string(status), detail, at.UnixMilli(), id)
	if err != nil {
		return false, utils.Wrap("store.FinishAction", "update action", nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.Wrap("store.FinishAction", "rows affected", nil, err)
	}
	return n == 1, nil
}

// GetAction loads an action by id.
func (s *Store) GetAction(ctx context.Context, id string) (models.Action, error) {
	var row actionRow
	err := s.queryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, row.dest(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Action{}, utils.NotFound("store.GetAction", "action "+id+" not found")
	}
	if err != nil {
		return models.Action{}, utils.Wrap("store.GetAction", "query action", nil, err)
	}
	return row.model(), nil
}

// ListActionsByRun returns the actions of one run, newest first.
func (s *Store) ListActionsByRun(ctx context.Context, runID string) ([]models.Action, error) {
	return s.listActions(ctx, "store.ListActionsByRun",
		`SELECT `+actionColumns+` FROM actions WHERE run_id = ? ORDER BY created_at_ms DESC, id DESC`, runID)
}

// ListActionsSince returns actions created at or after since, newest first.
func (s *Store) ListActionsSince(ctx context.Context, since time.Time) ([]models.Action, error) {
	return s.listActions(ctx, "store.ListActionsSince",
		`SELECT `+actionColumns+` FROM actions WHERE created_at_ms >= ? ORDER BY created_at_ms DESC, id DESC`,
		since.UnixMilli())
}

// ActionCounts aggregates every recorded action.
func (s *Store) ActionCounts(ctx context.Context) (models.HistoryStats, error) {
	var stats models.HistoryStats
	var attempted, successful, failed, escalated sql.NullInt64
	err := s.queryRow(ctx,
		`SELECT COUNT(*),
		        SUM(CASE WHEN status <> 'skipped' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'applied' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN action_type = ? THEN 1 ELSE 0 END)
		 FROM actions`,
		[]any{&stats.Total, &attempted, &successful, &failed, &escalated},
		models.ActionTypeEscalate)
	if err != nil {
		return models.HistoryStats{}, utils.Wrap("store.ActionCounts", "aggregate actions", nil, err)
	}
	stats.Attempted = int(attempted.Int64)
	stats.Successful = int(successful.Int64)
	stats.Failed = int(failed.Int64)
	stats.Escalated = int(escalated.Int64)
	return stats, nil
}

func (s *Store) listActions(ctx context.Context, op, q string, args ...any) ([]models.Action, error) {
	var out []models.Action
	err := s.query(ctx, q, func(rows *sql.Rows) error {
		var row actionRow
		if err := rows.Scan(row.dest()...); err != nil {
			return err
		}
		out = append(out, row.model())
		return nil
	}, args...)
	if err != nil {
		return nil, utils.Wrap(op, "query actions", nil, err)
	}
	return out, nil
}

type actionRow struct {
	id         string
	runID      string
	actionType string
	target     string
	status     string
	detail     string
	createdAt  int64
	finishedAt sql.NullInt64
}

func (r *actionRow) dest() []any {
	return []any{&r.id, &r.runID, &r.actionType, &r.target, &r.status, &r.detail, &r.createdAt, &r.finishedAt}
}

func (r *actionRow) model() models.Action {
	return models.Action{
		ID:         r.id,
		RunID:      r.runID,
		ActionType: r.actionType,
		Target:     r.target,
		Status:     models.ActionStatus(r.status),
		Detail:     r.detail,
		CreatedAt:  time.UnixMilli(r.createdAt).UTC(),
		FinishedAt: timePtr(r.finishedAt),
	}
}
