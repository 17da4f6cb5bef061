package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

const notificationColumns = `id, user_id, type, title, body, data, read_at, created_at, updated_at, deleted_at`

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n                model.Notification
		readAt, deleted  sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Data, &readAt, &created, &updated, &deleted); err != nil {
		return model.Notification{}, err
	}
	n.ReadAt = timePtr(readAt)
	n.CreatedAt = fromMicros(created)
	n.UpdatedAt = fromMicros(updated)
	n.DeletedAt = timePtr(deleted)
	return n, nil
}

func (q *Queries) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, n.Data, nullMicros(n.ReadAt),
		micros(n.CreatedAt), micros(n.UpdatedAt), nullMicros(n.DeletedAt))
	if err != nil {
		return errors.Wrap(err, "insert notification")
	}
	return nil
}

func (q *Queries) ChangedNotifications(ctx context.Context, userID string, f ChangeFilter) ([]model.Notification, error) {
	where, args, tail := f.changedClause("updated_at", "id", []string{"user_id = ?", "deleted_at IS NULL"}, []any{userID})
	rows, err := q.q.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed notifications")
	}
	return collect(rows, scanNotification, "changed notifications")
}

func (q *Queries) DeletedNotificationIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	return q.ids(ctx, `
		SELECT id FROM notifications WHERE user_id = ? AND deleted_at > ? ORDER BY deleted_at, id
	`, []any{userID, micros(f.Since)}, "deleted notifications")
}
