package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// InsertHeartbeat appends one heartbeat.
func (s *Store) InsertHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	_, err := s.exec(ctx,
		`INSERT INTO heartbeats (id, source, ts_ms) VALUES (?, ?, ?)`,
		hb.ID, hb.Source, hb.Timestamp.UnixMilli())
	if err != nil {
		return utils.Wrap("store.InsertHeartbeat", "insert heartbeat", nil, err)
	}
	return nil
}

// ListHeartbeatsSince returns heartbeats at or after since, oldest first.
func (s *Store) ListHeartbeatsSince(ctx context.Context, since time.Time) ([]models.Heartbeat, error) {
	var out []models.Heartbeat
	err := s.query(ctx,
		`SELECT id, source, ts_ms FROM heartbeats WHERE ts_ms >= ? ORDER BY ts_ms ASC`,
		func(rows *sql.Rows) error {
			var hb models.Heartbeat
			var ts int64
			if err := rows.Scan(&hb.ID, &hb.Source, &ts); err != nil {
				return err
			}
			hb.Timestamp = time.UnixMilli(ts).UTC()
			out = append(out, hb)
			return nil
		}, since.UnixMilli())
	if err != nil {
		return nil, utils.Wrap("store.ListHeartbeatsSince", "query heartbeats", nil, err)
	}
	return out, nil
}

// LatestHeartbeat returns the most recent heartbeat, if any.
func (s *Store) LatestHeartbeat(ctx context.Context) (models.Heartbeat, bool, error) {
	var hb models.Heartbeat
	var ts int64
	err := s.queryRow(ctx,
		`SELECT id, source, ts_ms FROM heartbeats ORDER BY ts_ms DESC LIMIT 1`,
		[]any{&hb.ID, &hb.Source, &ts})
	if errors.Is(err, sql.ErrNoRows) {
		return models.Heartbeat{}, false, nil
	}
	if err != nil {
		return models.Heartbeat{}, false, utils.Wrap("store.LatestHeartbeat", "query latest heartbeat", nil, err)
	}
	hb.Timestamp = time.UnixMilli(ts).UTC()
	return hb, true, nil
}
