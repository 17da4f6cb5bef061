package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"teamsync-server/internal/model"
)

const teamColumns = `id, name, description, owner_id, created_at, updated_at, deleted_at`

func scanTeam(row rowScanner) (model.Team, error) {
	var (
		t                model.Team
		created, updated int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.OwnerID, &created, &updated, &deleted); err != nil {
		return model.Team{}, err
	}
	t.CreatedAt = fromMicros(created)
	t.UpdatedAt = fromMicros(updated)
	t.DeletedAt = timePtr(deleted)
	return t, nil
}

// CreateTeam inserts a team and makes the owner its first member.
func (q *Queries) CreateTeam(ctx context.Context, name, description, ownerID string, now time.Time) (model.Team, error) {
	t := model.Team{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO teams (id, name, description, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Description, t.OwnerID, micros(now), micros(now))
	if err != nil {
		return model.Team{}, errors.Wrap(err, "create team")
	}
	if err := q.AddMember(ctx, t.ID, ownerID, "owner", now); err != nil {
		return model.Team{}, err
	}
	return t, nil
}

func (q *Queries) SoftDeleteTeam(ctx context.Context, teamID string, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE teams SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, micros(now), micros(now), teamID)
	if err != nil {
		return errors.Wrap(err, "delete team")
	}
	return requireAffected(res)
}

// AddMember inserts a membership or revives a removed one.
func (q *Queries) AddMember(ctx context.Context, teamID, userID, role string, now time.Time) error {
	if role == "" {
		role = "member"
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(team_id, user_id) DO UPDATE SET
			role = excluded.role,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, teamID, userID, role, micros(now), micros(now))
	if err != nil {
		return errors.Wrap(err, "add member")
	}
	return nil
}

func (q *Queries) RemoveMember(ctx context.Context, teamID, userID string, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE team_members SET deleted_at = ?, updated_at = ?
		WHERE team_id = ? AND user_id = ? AND deleted_at IS NULL
	`, micros(now), micros(now), teamID, userID)
	if err != nil {
		return errors.Wrap(err, "remove member")
	}
	return requireAffected(res)
}

// IsMember reports whether userID currently belongs to a live team.
func (q *Queries) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_members m
		JOIN teams t ON t.id = m.team_id
		WHERE m.team_id = ? AND m.user_id = ? AND m.deleted_at IS NULL AND t.deleted_at IS NULL
	`, teamID, userID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "check membership")
	}
	return n > 0, nil
}

func (q *Queries) TeamMemberIDs(ctx context.Context, teamID string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_id FROM team_members WHERE team_id = ? AND deleted_at IS NULL ORDER BY user_id
	`, teamID)
	if err != nil {
		return nil, errors.Wrap(err, "list team members")
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan team member")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "list team members")
}

func (q *Queries) ListTeamsForUser(ctx context.Context, userID string) ([]model.Team, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+teamColumns+` FROM teams
		WHERE deleted_at IS NULL AND id IN (`+memberTeamsSQL+`)
		ORDER BY name ASC, id ASC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list teams")
	}
	return collect(rows, scanTeam, "list teams")
}

func (q *Queries) ChangedTeams(ctx context.Context, userID string, f ChangeFilter) ([]model.Team, error) {
	where := []string{"deleted_at IS NULL", "id IN (" + memberTeamsSQL + ")"}
	args := []any{userID}
	if f.TeamID != "" {
		where = append(where, "id = ?")
		args = append(args, f.TeamID)
	}
	where, args, tail := f.changedClause("updated_at", "id", where, args)
	rows, err := q.q.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed teams")
	}
	return collect(rows, scanTeam, "changed teams")
}

func (q *Queries) DeletedTeamIDs(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	query := `SELECT id FROM teams WHERE deleted_at > ? AND id IN (` + memberTeamsSQL + `)`
	args := []any{micros(f.Since), userID}
	if f.TeamID != "" {
		query += ` AND id = ?`
		args = append(args, f.TeamID)
	}
	return q.ids(ctx, query+` ORDER BY deleted_at, id`, args, "deleted teams")
}

const membershipColumns = `team_id, user_id, role, created_at, updated_at, deleted_at`

func scanMembership(row rowScanner) (model.TeamMembership, error) {
	var (
		m                model.TeamMembership
		created, updated int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&m.TeamID, &m.UserID, &m.Role, &created, &updated, &deleted); err != nil {
		return model.TeamMembership{}, err
	}
	m.CreatedAt = fromMicros(created)
	m.UpdatedAt = fromMicros(updated)
	m.DeletedAt = timePtr(deleted)
	return m, nil
}

func (q *Queries) ListMemberships(ctx context.Context, userID string) ([]model.TeamMembership, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+membershipColumns+` FROM team_members
		WHERE deleted_at IS NULL AND team_id IN (`+memberTeamsSQL+`)
		ORDER BY team_id, user_id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list memberships")
	}
	return collect(rows, scanMembership, "list memberships")
}

// ChangedMemberships returns live membership rows of the caller's teams.
func (q *Queries) ChangedMemberships(ctx context.Context, userID string, f ChangeFilter) ([]model.TeamMembership, error) {
	where := []string{"deleted_at IS NULL", "team_id IN (" + memberTeamsSQL + ")"}
	args := []any{userID}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	where, args, tail := f.changedClause("updated_at", "(team_id || ':' || user_id)", where, args)
	rows, err := q.q.QueryContext(ctx, `SELECT `+membershipColumns+` FROM team_members`+joinWhere(where)+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "changed memberships")
	}
	return collect(rows, scanMembership, "changed memberships")
}

// DeletedMembershipKeys reports removals inside the caller's teams plus the
// caller's own removals, so a device learns it lost access to a team.
func (q *Queries) DeletedMembershipKeys(ctx context.Context, userID string, f ChangeFilter) ([]string, error) {
	query := `SELECT team_id || ':' || user_id FROM team_members
		WHERE deleted_at > ? AND (user_id = ? OR team_id IN (` + memberTeamsSQL + `))`
	args := []any{micros(f.Since), userID, userID}
	if f.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	return q.ids(ctx, query+` ORDER BY deleted_at, team_id, user_id`, args, "deleted memberships")
}

func (q *Queries) ids(ctx context.Context, query string, args []any, op string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, op)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, op)
	}
	return ids, nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error), op string) ([]T, error) {
	defer func() { _ = rows.Close() }()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, op)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, op)
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
