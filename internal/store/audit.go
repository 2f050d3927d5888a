package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// InsertAuditEvent appends one patch audit event.
func (s *Store) InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error {
	_, err := s.exec(ctx,
		`INSERT INTO audit_events (id, action, patch_id, run_id, actor, reason, resulting_status, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.PatchID, ev.RunID, ev.Actor, ev.Reason, string(ev.ResultingStatus),
		ev.CreatedAt.UnixMilli())
	if err != nil {
		return utils.Wrap("store.InsertAuditEvent", "insert audit event", utils.ErrAudit, err)
	}
	return nil
}

// ListAuditEvents returns the audit trail of one patch, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, patchID string) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	err := s.query(ctx,
		`SELECT id, action, patch_id, run_id, actor, reason, resulting_status, created_at_ms
		 FROM audit_events WHERE patch_id = ? ORDER BY created_at_ms ASC, id ASC`,
		func(rows *sql.Rows) error {
			var ev models.AuditEvent
			var status string
			var created int64
			if err := rows.Scan(&ev.ID, &ev.Action, &ev.PatchID, &ev.RunID, &ev.Actor, &ev.Reason, &status, &created); err != nil {
				return err
			}
			ev.ResultingStatus = models.PatchStatus(status)
			ev.CreatedAt = time.UnixMilli(created).UTC()
			out = append(out, ev)
			return nil
		}, patchID)
	if err != nil {
		return nil, utils.Wrap("store.ListAuditEvents", "query audit events", nil, err)
	}
	return out, nil
}
