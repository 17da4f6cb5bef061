package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

func (q *Queries) GetCursor(ctx context.Context, userID, deviceID string) (model.SyncCursor, error) {
	var (
		c                      model.SyncCursor
		last, created, updated int64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT user_id, device_id, last_synced_at, created_at, updated_at
		FROM sync_cursors WHERE user_id = ? AND device_id = ?
	`, userID, deviceID).Scan(&c.UserID, &c.DeviceID, &last, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncCursor{}, ErrNotFound
	}
	if err != nil {
		return model.SyncCursor{}, errors.Wrap(err, "get cursor")
	}
	c.LastSyncedAt = fromMicros(last)
	c.CreatedAt = fromMicros(created)
	c.UpdatedAt = fromMicros(updated)
	return c, nil
}

// UpsertCursor records at as the device's last sync instant. The stored value
// never moves backward, so a slower concurrent call cannot regress it.
func (q *Queries) UpsertCursor(ctx context.Context, userID, deviceID string, at, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_cursors (user_id, device_id, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET
			last_synced_at = CASE
				WHEN excluded.last_synced_at > sync_cursors.last_synced_at THEN excluded.last_synced_at
				ELSE sync_cursors.last_synced_at
			END,
			updated_at = excluded.updated_at
	`, userID, deviceID, micros(at), micros(now), micros(now))
	if err != nil {
		return errors.Wrap(err, "upsert cursor")
	}
	return nil
}
