package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const jobColumns = `name, schedule, enabled, expected_duration_ms, diagnostics, last_run_at_ms`

// UpsertJob creates or updates a job definition. lastRunAt is owned by the run
// tracker and is left untouched on update.
func (s *Store) UpsertJob(ctx context.Context, job models.Job) error {
	_, err := s.exec(ctx,
		`INSERT INTO jobs (name, schedule, enabled, expected_duration_ms, diagnostics)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   schedule = excluded.schedule,
		   enabled = excluded.enabled,
		   expected_duration_ms = excluded.expected_duration_ms,
		   diagnostics = excluded.diagnostics`,
		job.Name, job.Schedule, boolInt(job.Enabled), job.ExpectedDuration.Milliseconds(),
		strings.Join(job.Diagnostics, ","))
	if err != nil {
		return utils.Wrap("store.UpsertJob", "upsert job "+job.Name, nil, err)
	}
	return nil
}

// GetJob loads a job by name.
func (s *Store) GetJob(ctx context.Context, name string) (models.Job, error) {
	var row jobRow
	err := s.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, row.dest(), name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, utils.NotFound("store.GetJob", "job "+name+" not found")
	}
	if err != nil {
		return models.Job{}, utils.Wrap("store.GetJob", "query job", nil, err)
	}
	return row.model(), nil
}

// ListJobs returns every job ordered by name. When enabledOnly is set, disabled jobs are skipped.
func (s *Store) ListJobs(ctx context.Context, enabledOnly bool) ([]models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY name ASC`
	var out []models.Job
	err := s.query(ctx, q, func(rows *sql.Rows) error {
		var row jobRow
		if err := rows.Scan(row.dest()...); err != nil {
			return err
		}
		out = append(out, row.model())
		return nil
	})
	if err != nil {
		return nil, utils.Wrap("store.ListJobs", "query jobs", nil, err)
	}
	return out, nil
}

// TouchJobLastRun records when a job last finished a run.
func (s *Store) TouchJobLastRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE jobs SET last_run_at_ms = ? WHERE name = ?`, at.UnixMilli(), name)
	if err != nil {
		return utils.Wrap("store.TouchJobLastRun", "update job "+name, nil, err)
	}
	return nil
}

type jobRow struct {
	name        string
	schedule    string
	enabled     int
	expectedMs  int64
	diagnostics string
	lastRunAt   sql.NullInt64
}

func (r *jobRow) dest() []any {
	return []any{&r.name, &r.schedule, &r.enabled, &r.expectedMs, &r.diagnostics, &r.lastRunAt}
}

func (r *jobRow) model() models.Job {
	job := models.Job{
		Name:             r.name,
		Schedule:         r.schedule,
		Enabled:          r.enabled != 0,
		ExpectedDuration: time.Duration(r.expectedMs) * time.Millisecond,
		LastRunAt:        timePtr(r.lastRunAt),
	}
	if r.diagnostics != "" {
		job.Diagnostics = strings.Split(r.diagnostics, ",")
	}
	return job
}
