package store

import (
	"strings"
	"time"
)

// Position is a keyset position in (changed_at, id) order.
type Position struct {
	At time.Time
	ID string
}

// ChangeFilter bounds an incremental read: rows changed strictly after
// Since, optionally continuing after a page position and restricted to one
// team.
type ChangeFilter struct {
	Since  time.Time
	After  *Position
	Limit  int
	TeamID string
}

// changedClause appends the time and keyset predicates for expr and returns
// the ORDER BY / LIMIT tail.
func (f ChangeFilter) changedClause(expr, idExpr string, where []string, args []any) ([]string, []any, string) {
	where = append(where, expr+" > ?")
	args = append(args, micros(f.Since))
	if f.After != nil {
		where = append(where, "("+expr+" > ? OR ("+expr+" = ? AND "+idExpr+" > ?))")
		at := micros(f.After.At)
		args = append(args, at, at, f.After.ID)
	}
	tail := " ORDER BY " + expr + " ASC, " + idExpr + " ASC"
	if f.Limit > 0 {
		tail += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return where, args, tail
}

func joinWhere(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

// memberTeamsSQL selects the teams a user currently belongs to.
const memberTeamsSQL = `SELECT team_id FROM team_members WHERE user_id = ? AND deleted_at IS NULL`
