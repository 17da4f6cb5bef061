package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

const subtaskColumns = `id, parent_type, parent_id, title, is_completed, position, created_at, updated_at, deleted_at`

// visibleSubtaskSQL restricts subtasks to parents the user may read. It binds
// the user id twice.
const visibleSubtaskSQL = `(
	(parent_type = 'personal' AND parent_id IN (
		SELECT id FROM personal_tasks WHERE user_id = ? AND deleted_at IS NULL))
	OR (parent_type = 'team' AND parent_id IN (
		SELECT id FROM team_tasks WHERE deleted_at IS NULL AND team_id IN (` + memberTeamsSQL + `)))
)`

func scanSubtask(row rowScanner) (model.Subtask, error) {
	var (
		s                    model.Subtask
		parentType, parentID string
		completed            int
		created, updated     int64
		deleted              sql.NullInt64
	)
	if err := row.Scan(&s.ID, &parentType, &parentID, &s.Title, &completed, &s.Position, &created, &updated, &deleted); err != nil {
		return model.Subtask{}, err
	}
	parent, err := model.ParseTaskRef(parentType, parentID)
	if err != nil {
		return model.Subtask{}, err
	}
	s.Parent = parent
	s.IsCompleted = completed != 0
	s.CreatedAt = fromMicros(created)
	s.UpdatedAt = fromMicros(updated)
	s.DeletedAt = timePtr(deleted)
	return s, nil
}

func (q *Queries) InsertSubtask(ctx context.Context, s model.Subtask) error {
	completed := 0
	if s.IsCompleted {
		completed = 1
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO subtasks (`+subtaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, string(s.Parent.Kind()), s.Parent.ID(), s.Title, completed, s.Position,
		micros(s.CreatedAt), micros(s.UpdatedAt), nullMicros(s.DeletedAt))
	if err != nil {
		return errors.Wrap(err, "insert subtask")
	}
	return nil
}

// ListSubtasks returns live subtasks attached to any of parents.
func (q *Queries) ListSubtasks(ctx context.Context, parents []model.TaskRef) ([]model.Subtask, error) {
	if len(parents) == 0 {
		return []model.Subtask{}, nil
	}
	conds := make([]string, 0, len(parents))
	args := make([]any, 0, 2*len(parents))
	for _, p := range parents {
		conds = append(conds, "(parent_type = ? AND parent_id = ?)")
		args = append(args, string(p.Kind()), p.ID())
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+subtaskColumns+` FROM subtasks
		WHERE deleted_at IS NULL AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY parent_type, parent_id, position, id
	`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list subtasks")
	}
	return collect(rows, scanSubtask, "list subtasks")
}

func (q *Queries) ChangedSubtasks(ctx context.Context, userID string, f ChangeFilter) ([]model.Subtask, error) {
	where, args, tail := f.changedClause("updated_at", "id",
		[]string{"deleted_at IS NULL", visibleSubtaskSQL}, []any{userID, userID})
	rows, err := q.q.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed subtasks")
	}
	return collect(rows, scanSubtask, "changed subtasks")
}

func (q *Queries) DeletedSubtaskIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	return q.ids(ctx, `SELECT id FROM subtasks WHERE deleted_at > ? AND `+visibleSubtaskSQL+` ORDER BY deleted_at, id`,
		[]any{micros(f.Since), userID, userID}, "deleted subtasks")
}
