package store

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// IncrementWindow bumps the counter for key inside the fixed window starting at
// windowStart and returns the new count. A row from an older window is reset.
func (s *Store) IncrementWindow(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var count int
	err := s.queryRow(ctx,
		`INSERT INTO rate_windows (window_key, window_start_ms, count) VALUES (?, ?, 1)
		 ON CONFLICT (window_key) DO UPDATE SET
		   count = CASE WHEN rate_windows.window_start_ms = excluded.window_start_ms
		                THEN rate_windows.count + 1 ELSE 1 END,
		   window_start_ms = excluded.window_start_ms
		 RETURNING count`,
		[]any{&count}, key, windowStart.UnixMilli())
	if err != nil {
		return 0, utils.Wrap("store.IncrementWindow", "increment window "+key, nil, err)
	}
	return count, nil
}

// ReleaseWindow gives back one event counted for key in the window starting at
// windowStart. It is a no-op once that window has been replaced or emptied.
func (s *Store) ReleaseWindow(ctx context.Context, key string, windowStart time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE rate_windows SET count = count - 1
		 WHERE window_key = ? AND window_start_ms = ? AND count > 0`,
		key, windowStart.UnixMilli())
	if err != nil {
		return utils.Wrap("store.ReleaseWindow", "release window "+key, nil, err)
	}
	return nil
}
