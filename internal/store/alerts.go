package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const alertColumns = `id, severity, message, run_id, created_at_ms, acknowledged, acknowledged_at_ms, acknowledged_by`

// InsertAlert stores a new alert.
func (s *Store) InsertAlert(ctx context.Context, a models.Alert) error {
	_, err := s.exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Severity), a.Message, a.RunID, a.CreatedAt.UnixMilli(),
		boolInt(a.Acknowledged), nullMillis(a.AcknowledgedAt), a.AcknowledgedBy)
	if err != nil {
		return utils.Wrap("store.InsertAlert", "insert alert", nil, err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged. It reports false when the alert
// was already acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE alerts SET acknowledged = 1, acknowledged_at_ms = ?, acknowledged_by = ?
		 WHERE id = ? AND acknowledged = 0`,
		at.UnixMilli(), by, id)
	if err != nil {
		return false, utils.Wrap("store.AcknowledgeAlert", "update alert", nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.Wrap("store.AcknowledgeAlert", "rows affected", nil, err)
	}
	return n == 1, nil
}

// GetAlert loads an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	var row alertRow
	err := s.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, row.dest(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, utils.NotFound("store.GetAlert", "alert "+id+" not found")
	}
	if err != nil {
		return models.Alert{}, utils.Wrap("store.GetAlert", "query alert", nil, err)
	}
	return row.model(), nil
}

// ListAlerts returns alerts matching filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE created_at_ms >= ?`
	args := []any{utils.UnixMillis(filter.Since)}
	if filter.Acknowledged != nil {
		q += ` AND acknowledged = ?`
		args = append(args, boolInt(*filter.Acknowledged))
	}
	q += ` ORDER BY created_at_ms DESC, id DESC`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var out []models.Alert
	err := s.query(ctx, q, func(rows *sql.Rows) error {
		var row alertRow
		if err := rows.Scan(row.dest()...); err != nil {
			return err
		}
		out = append(out, row.model())
		return nil
	}, args...)
	if err != nil {
		return nil, utils.Wrap("store.ListAlerts", "query alerts", nil, err)
	}
	return out, nil
}

type alertRow struct {
	id             string
	severity       string
	message        string
	runID          string
	createdAt      int64
	acknowledged   int
	acknowledgedAt sql.NullInt64
	acknowledgedBy string
}

func (r *alertRow) dest() []any {
	return []any{&r.id, &r.severity, &r.message, &r.runID, &r.createdAt, &r.acknowledged, &r.acknowledgedAt, &r.acknowledgedBy}
}

func (r *alertRow) model() models.Alert {
	return models.Alert{
		ID:             r.id,
		Severity:       models.Severity(r.severity),
		Message:        r.message,
		RunID:          r.runID,
		CreatedAt:      time.UnixMilli(r.createdAt).UTC(),
		Acknowledged:   r.acknowledged != 0,
		AcknowledgedAt: timePtr(r.acknowledgedAt),
		AcknowledgedBy: r.acknowledgedBy,
	}
}
