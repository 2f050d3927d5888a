package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const runColumns = `id, job_name, status, started_at_ms, duration_ms, issues_detected, fixes_applied, error`

// InsertRun stores a new run. A second running run for the same job violates
// idx_runs_single_running and is reported as a conflict.
func (s *Store) InsertRun(ctx context.Context, run models.Run) error {
	var duration sql.NullInt64
	if run.DurationMs != nil {
		duration = sql.NullInt64{Int64: *run.DurationMs, Valid: true}
	}
	_, err := s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobName, string(run.Status), run.StartedAt.UnixMilli(), duration,
		run.IssuesDetected, run.FixesApplied, run.Error)
	if isUniqueViolation(err) {
		return utils.Conflict("store.InsertRun", "job "+run.JobName+" already has a running run")
	}
	if err != nil {
		return utils.Wrap("store.InsertRun", "insert run", nil, err)
	}
	return nil
}

// CloseRun moves a running run to a terminal status. It reports false when the
// run was not running, leaving the row untouched.
func (s *Store) CloseRun(ctx context.Context, id string, status models.RunStatus, durationMs int64, counts models.RunCounts) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, duration_ms = ?, issues_detected = ?, fixes_applied = ?, error = ?
		 WHERE id = ? AND status = 'running'`,
		string(status), durationMs, counts.IssuesDetected, counts.FixesApplied, counts.Error, id)
	if err != nil {
		return false, utils.Wrap("store.CloseRun", "update run", nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.Wrap("store.CloseRun", "rows affected", nil, err)
	}
	return n == 1, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	var row runRow
	err := s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, row.dest(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, utils.NotFound("store.GetRun", "run "+id+" not found")
	}
	if err != nil {
		return models.Run{}, utils.Wrap("store.GetRun", "query run", nil, err)
	}
	return row.model(), nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]models.Run, error) {
	return s.listRuns(ctx, "store.ListRuns",
		`SELECT `+runColumns+` FROM runs ORDER BY started_at_ms DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

// ListRunsSince returns runs started at or after since, newest first.
func (s *Store) ListRunsSince(ctx context.Context, since time.Time) ([]models.Run, error) {
	return s.listRuns(ctx, "store.ListRunsSince",
		`SELECT `+runColumns+` FROM runs WHERE started_at_ms >= ? ORDER BY started_at_ms DESC, id DESC`,
		since.UnixMilli())
}

// ListRunningRuns returns every run still marked running, oldest first.
func (s *Store) ListRunningRuns(ctx context.Context) ([]models.Run, error) {
	return s.listRuns(ctx, "store.ListRunningRuns",
		`SELECT `+runColumns+` FROM runs WHERE status = 'running' ORDER BY started_at_ms ASC`)
}

func (s *Store) listRuns(ctx context.Context, op, q string, args ...any) ([]models.Run, error) {
	var out []models.Run
	err := s.query(ctx, q, func(rows *sql.Rows) error {
		var row runRow
		if err := rows.Scan(row.dest()...); err != nil {
			return err
		}
		out = append(out, row.model())
		return nil
	}, args...)
	if err != nil {
		return nil, utils.Wrap(op, "query runs", nil, err)
	}
	return out, nil
}

type runRow struct {
	id        string
	jobName   string
	status    string
	startedAt int64
	duration  sql.NullInt64
	issues    int
	fixes     int
	errText   string
}

func (r *runRow) dest() []any {
	return []any{&r.id, &r.jobName, &r.status, &r.startedAt, &r.duration, &r.issues, &r.fixes, &r.errText}
}

func (r *runRow) model() models.Run {
	run := models.Run{
		ID:             r.id,
		JobName:        r.jobName,
		Status:         models.RunStatus(r.status),
		StartedAt:      time.UnixMilli(r.startedAt).UTC(),
		IssuesDetected: r.issues,
		FixesApplied:   r.fixes,
		Error:          r.errText,
	}
	if r.duration.Valid {
		d := r.duration.Int64
		run.DurationMs = &d
	}
	return run
}
