package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

const personalTaskColumns = `id, user_id, title, description, status, priority, due_date, completed_at, created_at, updated_at, deleted_at`

func scanPersonalTask(row rowScanner) (model.PersonalTask, error) {
	var (
		t                       model.PersonalTask
		status, priority        string
		due, completed, deleted sql.NullInt64
		created, updated        int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &priority, &due, &completed, &created, &updated, &deleted); err != nil {
		return model.PersonalTask{}, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.Priority(priority)
	t.DueDate = timePtr(due)
	t.CompletedAt = timePtr(completed)
	t.CreatedAt = fromMicros(created)
	t.UpdatedAt = fromMicros(updated)
	t.DeletedAt = timePtr(deleted)
	return t, nil
}

func (q *Queries) InsertPersonalTask(ctx context.Context, t model.PersonalTask) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO personal_tasks (`+personalTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Title, t.Description, string(t.Status), string(t.Priority),
		nullMicros(t.DueDate), nullMicros(t.CompletedAt), micros(t.CreatedAt), micros(t.UpdatedAt), nullMicros(t.DeletedAt))
	if err != nil {
		return errors.Wrap(err, "insert personal task")
	}
	return nil
}

// UpdatePersonalTask writes every mutable column of t.
func (q *Queries) UpdatePersonalTask(ctx context.Context, t model.PersonalTask) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE personal_tasks SET
			title = ?, description = ?, status = ?, priority = ?,
			due_date = ?, completed_at = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?
	`, t.Title, t.Description, string(t.Status), string(t.Priority),
		nullMicros(t.DueDate), nullMicros(t.CompletedAt), micros(t.UpdatedAt), nullMicros(t.DeletedAt), t.ID)
	if err != nil {
		return errors.Wrap(err, "update personal task")
	}
	return requireAffected(res)
}

// GetPersonalTask loads a live personal task by id regardless of owner;
// callers check ownership.
func (q *Queries) GetPersonalTask(ctx context.Context, id string) (model.PersonalTask, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+personalTaskColumns+` FROM personal_tasks WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanPersonalTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PersonalTask{}, ErrNotFound
	}
	if err != nil {
		return model.PersonalTask{}, errors.Wrap(err, "get personal task")
	}
	return t, nil
}

func (q *Queries) ListPersonalTasks(ctx context.Context, userID string) ([]model.PersonalTask, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+personalTaskColumns+` FROM personal_tasks
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY updated_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list personal tasks")
	}
	return collect(rows, scanPersonalTask, "list personal tasks")
}

func (q *Queries) ChangedPersonalTasks(ctx context.Context, userID string, f ChangeFilter) ([]model.PersonalTask, error) {
	where, args, tail := f.changedClause("updated_at", "id", []string{"user_id = ?", "deleted_at IS NULL"}, []any{userID})
	rows, err := q.q.QueryContext(ctx, `SELECT `+personalTaskColumns+` FROM personal_tasks`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed personal tasks")
	}
	return collect(rows, scanPersonalTask, "changed personal tasks")
}

func (q *Queries) DeletedPersonalTaskIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	return q.ids(ctx, `
		SELECT id FROM personal_tasks WHERE user_id = ? AND deleted_at > ? ORDER BY deleted_at, id
	`, []any{userID, micros(f.Since)}, "deleted personal tasks")
}

const teamTaskColumns = `id, team_id, creator_id, assignee_id, title, description, status, priority, due_date, completed_at, created_at, updated_at, deleted_at`

func scanTeamTask(row rowScanner) (model.TeamTask, error) {
	var (
		t                       model.TeamTask
		assignee                sql.NullString
		status, priority        string
		due, completed, deleted sql.NullInt64
		created, updated        int64
	)
	if err := row.Scan(&t.ID, &t.TeamID, &t.CreatorID, &assignee, &t.Title, &t.Description, &status, &priority, &due, &completed, &created, &updated, &deleted); err != nil {
		return model.TeamTask{}, err
	}
	t.AssigneeID = stringPtr(assignee)
	t.Status = model.TaskStatus(status)
	t.Priority = model.Priority(priority)
	t.DueDate = timePtr(due)
	t.CompletedAt = timePtr(completed)
	t.CreatedAt = fromMicros(created)
	t.UpdatedAt = fromMicros(updated)
	t.DeletedAt = timePtr(deleted)
	return t, nil
}

func (q *Queries) InsertTeamTask(ctx context.Context, t model.TeamTask) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO team_tasks (`+teamTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.TeamID, t.CreatorID, nullString(t.AssigneeID), t.Title, t.Description, string(t.Status), string(t.Priority),
		nullMicros(t.DueDate), nullMicros(t.CompletedAt), micros(t.CreatedAt), micros(t.UpdatedAt), nullMicros(t.DeletedAt))
	if err != nil {
		return errors.Wrap(err, "insert team task")
	}
	return nil
}

func (q *Queries) UpdateTeamTask(ctx context.Context, t model.TeamTask) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE team_tasks SET
			assignee_id = ?, title = ?, description = ?, status = ?, priority = ?,
			due_date = ?, completed_at = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?
	`, nullString(t.AssigneeID), t.Title, t.Description, string(t.Status), string(t.Priority),
		nullMicros(t.DueDate), nullMicros(t.CompletedAt), micros(t.UpdatedAt), nullMicros(t.DeletedAt), t.ID)
	if err != nil {
		return errors.Wrap(err, "update team task")
	}
	return requireAffected(res)
}

func (q *Queries) GetTeamTask(ctx context.Context, id string) (model.TeamTask, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+teamTaskColumns+` FROM team_tasks WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanTeamTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TeamTask{}, ErrNotFound
	}
	if err != nil {
		return model.TeamTask{}, errors.Wrap(err, "get team task")
	}
	return t, nil
}

// ListAssignedTeamTasks returns live tasks assigned to userID in teams the
// user still belongs to.
func (q *Queries) ListAssignedTeamTasks(ctx context.Context, userID string) ([]model.TeamTask, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+teamTaskColumns+` FROM team_tasks
		WHERE assignee_id = ? AND deleted_at IS NULL AND team_id IN (`+memberTeamsSQL+`)
		ORDER BY updated_at ASC, id ASC
	`, userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list assigned team tasks")
	}
	return collect(rows, scanTeamTask, "list assigned team tasks")
}

func (q *Queries) ChangedTeamTasks(ctx context.Context, userID string, f ChangeFilter) ([]model.TeamTask, error) {
	where := []string{"deleted_at IS NULL", "team_id IN (" + memberTeamsSQL + ")"}
	args := []any{userID}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	where, args, tail := f.changedClause("updated_at", "id", where, args)
	rows, err := q.q.QueryContext(ctx, `SELECT `+teamTaskColumns+` FROM team_tasks`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed team tasks")
	}
	return collect(rows, scanTeamTask, "changed team tasks")
}

func (q *Queries) DeletedTeamTaskIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	query := `SELECT id FROM team_tasks WHERE deleted_at > ? AND team_id IN (` + memberTeamsSQL + `)`
	args := []any{micros(f.Since), userID}
	if f.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	return q.ids(ctx, query+` ORDER BY deleted_at, id`, args, "deleted team tasks")
}
