package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

const messageColumns = `id, team_id, sender_id, body, attachment_ref, status, client_temp_id, reply_to_id, created_at, updated_at, deleted_at`

// messageChangedAt orders messages; rows never edited carry no updated_at.
const messageChangedAt = `COALESCE(updated_at, created_at)`

func scanMessage(row rowScanner) (model.ChatMessage, error) {
	var (
		m                 model.ChatMessage
		attachment, reply sql.NullString
		status            string
		created           int64
		updated, deleted  sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.TeamID, &m.SenderID, &m.Body, &attachment, &status, &m.ClientTempID, &reply, &created, &updated, &deleted); err != nil {
		return model.ChatMessage{}, err
	}
	m.AttachmentRef = stringPtr(attachment)
	m.ReplyToID = stringPtr(reply)
	m.Status = model.MessageStatus(status)
	m.CreatedAt = fromMicros(created)
	m.UpdatedAt = timePtr(updated)
	m.DeletedAt = timePtr(deleted)
	return m, nil
}

func (q *Queries) InsertMessage(ctx context.Context, m model.ChatMessage) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO messages (id, team_id, sender_id, body, attachment_ref, status, client_temp_id, reply_to_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.TeamID, m.SenderID, m.Body, nullString(m.AttachmentRef), string(m.Status), m.ClientTempID,
		nullString(m.ReplyToID), micros(m.CreatedAt), nullMicros(m.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

// GetMessage loads a live message by id.
func (q *Queries) GetMessage(ctx context.Context, id string) (model.ChatMessage, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? AND deleted_at IS NULL`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return model.ChatMessage{}, errors.Wrap(err, "get message")
	}
	return m, nil
}

// GetMessageByClientTempID looks up a sender's message by its idempotency
// key, including soft-deleted rows: a deleted message still consumed its key.
func (q *Queries) GetMessageByClientTempID(ctx context.Context, senderID, clientTempID string) (model.ChatMessage, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE sender_id = ? AND client_temp_id = ?`, senderID, clientTempID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return model.ChatMessage{}, errors.Wrap(err, "get message by client temp id")
	}
	return m, nil
}

func (q *Queries) UpdateMessageBody(ctx context.Context, id, body string, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE messages SET body = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, body, micros(now), id)
	if err != nil {
		return errors.Wrap(err, "update message body")
	}
	return requireAffected(res)
}

// UpdateMessageStatus moves a live message to status; callers check the
// transition first.
func (q *Queries) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, string(status), micros(now), id)
	if err != nil {
		return errors.Wrap(err, "update message status")
	}
	return requireAffected(res)
}

func (q *Queries) SoftDeleteMessage(ctx context.Context, id string, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, micros(now), micros(now), id)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	return requireAffected(res)
}

func (q *Queries) CountMessagesByClientTempID(ctx context.Context, clientTempID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE client_temp_id = ?`, clientTempID).Scan(&n)
	return n, errors.Wrap(err, "count messages")
}

// RecentMessages returns up to limit newest live messages of a team, oldest
// first.
func (q *Queries) RecentMessages(ctx context.Context, teamID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE team_id = ? AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, teamID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent messages")
	}
	return collect(rows, scanMessage, "recent messages")
}

func (q *Queries) ChangedMessages(ctx context.Context, userID string, f ChangeFilter) ([]model.ChatMessage, error) {
	where := []string{"deleted_at IS NULL", "team_id IN (" + memberTeamsSQL + ")"}
	args := []any{userID}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	where, args, tail := f.changedClause(messageChangedAt, "id", where, args)
	rows, err := q.q.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed messages")
	}
	return collect(rows, scanMessage, "changed messages")
}

func (q *Queries) DeletedMessageIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	query := `SELECT id FROM messages WHERE deleted_at > ? AND team_id IN (` + memberTeamsSQL + `)`
	args := []any{micros(f.Since), userID}
	if f.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	return q.ids(ctx, query+` ORDER BY deleted_at, id`, args, "deleted messages")
}

// InsertReadReceipt stores a receipt once; it reports false when the
// (message, user) pair was already recorded.
func (q *Queries) InsertReadReceipt(ctx context.Context, r model.ReadReceipt) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING
	`, r.MessageID, r.UserID, micros(r.ReadAt), micros(r.RecordedAt))
	if err != nil {
		return false, errors.Wrap(err, "insert read receipt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert read receipt")
	}
	return n == 1, nil
}

func (q *Queries) CountReadReceipts(ctx context.Context, messageID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_receipts WHERE message_id = ?`, messageID).Scan(&n)
	return n, errors.Wrap(err, "count read receipts")
}

func scanReceipt(row rowScanner) (model.ReadReceipt, error) {
	var (
		r                model.ReadReceipt
		readAt, recorded int64
	)
	if err := row.Scan(&r.MessageID, &r.UserID, &r.TeamID, &readAt, &recorded); err != nil {
		return model.ReadReceipt{}, err
	}
	r.ReadAt = fromMicros(readAt)
	r.RecordedAt = fromMicros(recorded)
	return r, nil
}

// ChangedReadReceipts returns receipts recorded after f.Since on live
// messages of the caller's teams.
func (q *Queries) ChangedReadReceipts(ctx context.Context, userID string, f ChangeFilter) ([]model.ReadReceipt, error) {
	where := []string{"m.deleted_at IS NULL", "m.team_id IN (" + memberTeamsSQL + ")"}
	args := []any{userID}
	if f.TeamID != "" {
		where = append(where, "m.team_id = ?")
		args = append(args, f.TeamID)
	}
	where, args, tail := f.changedClause("r.recorded_at", "(r.message_id || ':' || r.user_id)", where, args)
	rows, err := q.q.QueryContext(ctx, `
		SELECT r.message_id, r.user_id, m.team_id, r.read_at, r.recorded_at
		FROM read_receipts r JOIN messages m ON m.id = r.message_id`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed read receipts")
	}
	return collect(rows, scanReceipt, "changed read receipts")
}
