package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const patchColumns = `id, run_id, target_path, old_content, old_content_sha256, new_content, description, status,
	created_at_ms, applied_at_ms, rolled_back_at_ms, rolled_back_reason, failure_reason`

// InsertPatch stores a new patch record.
func (s *Store) InsertPatch(ctx context.Context, p models.Patch) error {
	_, err := s.exec(ctx,
		`INSERT INTO patches (`+patchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RunID, p.TargetPath, nullString(p.OldContent), p.OldContentSHA256, p.NewContent,
		p.Description, string(p.Status), p.CreatedAt.UnixMilli(), nullMillis(p.AppliedAt),
		nullMillis(p.RolledBackAt), p.RolledBackReason, p.FailureReason)
	if isUniqueViolation(err) {
		return utils.Conflict("store.InsertPatch", "patch "+p.ID+" already exists")
	}
	if err != nil {
		return utils.Wrap("store.InsertPatch", "insert patch", nil, err)
	}
	return nil
}

// TransitionPatch persists the lifecycle fields of p only if the stored status
// still equals from. It reports false when another writer moved the patch first.
func (s *Store) TransitionPatch(ctx context.Context, p models.Patch, from models.PatchStatus) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE patches SET status = ?, applied_at_ms = ?, rolled_back_at_ms = ?,
		   rolled_back_reason = ?, failure_reason = ?
		 WHERE id = ? AND status = ?`,
		string(p.Status), nullMillis(p.AppliedAt), nullMillis(p.RolledBackAt),
		p.RolledBackReason, p.FailureReason, p.ID, string(from))
	if err != nil {
		return false, utils.Wrap("store.TransitionPatch", "update patch", nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.Wrap("store.TransitionPatch", "rows affected", nil, err)
	}
	return n == 1, nil
}

// GetPatch loads a patch by id.
func (s *Store) GetPatch(ctx context.Context, id string) (models.Patch, error) {
	var row patchRow
	err := s.queryRow(ctx, `SELECT `+patchColumns+` FROM patches WHERE id = ?`, row.dest(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Patch{}, utils.NotFound("store.GetPatch", "patch "+id+" not found")
	}
	if err != nil {
		return models.Patch{}, utils.Wrap("store.GetPatch", "query patch", nil, err)
	}
	return row.model(), nil
}

// ListPatchesByRun returns the patches proposed during a run, oldest first.
func (s *Store) ListPatchesByRun(ctx context.Context, runID string) ([]models.Patch, error) {
	var out []models.Patch
	err := s.query(ctx,
		`SELECT `+patchColumns+` FROM patches WHERE run_id = ? ORDER BY created_at_ms ASC, id ASC`,
		func(rows *sql.Rows) error {
			var row patchRow
			if err := rows.Scan(row.dest()...); err != nil {
				return err
			}
			out = append(out, row.model())
			return nil
		}, runID)
	if err != nil {
		return nil, utils.Wrap("store.ListPatchesByRun", "query patches", nil, err)
	}
	return out, nil
}

type patchRow struct {
	id               string
	runID            string
	targetPath       string
	oldContent       sql.NullString
	oldContentSHA256 string
	newContent       string
	description      string
	status           string
	createdAt        int64
	appliedAt        sql.NullInt64
	rolledBackAt     sql.NullInt64
	rolledBackReason string
	failureReason    string
}

func (r *patchRow) dest() []any {
	return []any{
		&r.id, &r.runID, &r.targetPath, &r.oldContent, &r.oldContentSHA256, &r.newContent,
		&r.description, &r.status, &r.createdAt, &r.appliedAt, &r.rolledBackAt,
		&r.rolledBackReason, &r.failureReason,
	}
}

func (r *patchRow) model() models.Patch {
	p := models.Patch{
		ID:               r.id,
		RunID:            r.runID,
		TargetPath:       r.targetPath,
		OldContentSHA256: r.oldContentSHA256,
		NewContent:       r.newContent,
		Description:      r.description,
		Status:           models.PatchStatus(r.status),
		CreatedAt:        time.UnixMilli(r.createdAt).UTC(),
		AppliedAt:        timePtr(r.appliedAt),
		RolledBackAt:     timePtr(r.rolledBackAt),
		RolledBackReason: r.rolledBackReason,
		FailureReason:    r.failureReason,
	}
	if r.oldContent.Valid {
		old := r.oldContent.String
		p.OldContent = &old
	}
	return p
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
