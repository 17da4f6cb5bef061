package syncer

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"teamsync-server/internal/model"
	"teamsync-server/internal/store"
)

// EntityType names a syncable entity collection on the wire.
type EntityType string

const (
	Messages      EntityType = "messages"
	ReadReceipts  EntityType = "read_receipts"
	PersonalTasks EntityType = "personal_tasks"
	TeamTasks     EntityType = "team_tasks"
	Subtasks      EntityType = "subtasks"
	Teams         EntityType = "teams"
	Memberships   EntityType = "memberships"
	Notifications EntityType = "notifications"
)

// Query scopes one incremental read.
type Query struct {
	UserID string
	Since  time.Time
	Limit  int
	After  *store.Position
	TeamID string
}

// ChangeSet is the delta for one entity type. Deleted ids are reported only
// on the first page of a paginated read.
type ChangeSet[T any] struct {
	Updated       []T      `json:"updated"`
	Deleted       []string `json:"deleted"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// Changes holds the requested sections of a pull; nil sections were not
// requested.
type Changes struct {
	Messages      *ChangeSet[model.ChatMessage]    `json:"messages,omitempty"`
	ReadReceipts  *ChangeSet[model.ReadReceipt]    `json:"read_receipts,omitempty"`
	PersonalTasks *ChangeSet[model.PersonalTask]   `json:"personal_tasks,omitempty"`
	TeamTasks     *ChangeSet[model.TeamTask]       `json:"team_tasks,omitempty"`
	Subtasks      *ChangeSet[model.Subtask]        `json:"subtasks,omitempty"`
	Teams         *ChangeSet[model.Team]           `json:"teams,omitempty"`
	Memberships   *ChangeSet[model.TeamMembership] `json:"memberships,omitempty"`
	Notifications *ChangeSet[model.Notification]   `json:"notifications,omitempty"`
}

// Detector computes per-type deltas. It only reads.
type Detector struct{}

func (f Query) filter() store.ChangeFilter {
	return store.ChangeFilter{Since: f.Since, After: f.After, Limit: f.Limit, TeamID: f.TeamID}
}

func detect[T any](
	ctx context.Context,
	query Query,
	changed func(context.Context, string, store.ChangeFilter) ([]T, error),
	deleted func(context.Context, string, store.ChangeFilter) ([]string, error),
	position func(T) store.Position,
) (*ChangeSet[T], error) {
	f := query.filter()
	updated, err := changed(ctx, query.UserID, f)
	if err != nil {
		return nil, err
	}
	cs := &ChangeSet[T]{Updated: updated, Deleted: []string{}}
	if query.After == nil {
		ids, err := deleted(ctx, query.UserID, f)
		if err != nil {
			return nil, err
		}
		cs.Deleted = ids
	}
	if query.Limit > 0 && len(updated) == query.Limit {
		cs.NextPageToken = EncodePageToken(position(updated[len(updated)-1]))
	}
	return cs, nil
}

func noDeletions(context.Context, string, store.ChangeFilter) ([]string, error) {
	return []string{}, nil
}

func (Detector) Messages(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.ChatMessage], error) {
	return detect(ctx, query, q.ChangedMessages, q.DeletedMessageIDs, func(m model.ChatMessage) store.Position {
		return store.Position{At: m.ChangedAt(), ID: m.ID}
	})
}

// ReadReceipts are never deleted, so the deleted set is always empty.
func (Detector) ReadReceipts(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.ReadReceipt], error) {
	return detect(ctx, query, q.ChangedReadReceipts, noDeletions, func(r model.ReadReceipt) store.Position {
		return store.Position{At: r.RecordedAt, ID: r.Key()}
	})
}

func (Detector) PersonalTasks(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.PersonalTask], error) {
	return detect(ctx, query, q.ChangedPersonalTasks, q.DeletedPersonalTaskIDs, func(t model.PersonalTask) store.Position {
		return store.Position{At: t.UpdatedAt, ID: t.ID}
	})
}

func (Detector) TeamTasks(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.TeamTask], error) {
	return detect(ctx, query, q.ChangedTeamTasks, q.DeletedTeamTaskIDs, func(t model.TeamTask) store.Position {
		return store.Position{At: t.UpdatedAt, ID: t.ID}
	})
}

func (Detector) Subtasks(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.Subtask], error) {
	return detect(ctx, query, q.ChangedSubtasks, q.DeletedSubtaskIDs, func(s model.Subtask) store.Position {
		return store.Position{At: s.UpdatedAt, ID: s.ID}
	})
}

func (Detector) Teams(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.Team], error) {
	return detect(ctx, query, q.ChangedTeams, q.DeletedTeamIDs, func(t model.Team) store.Position {
		return store.Position{At: t.UpdatedAt, ID: t.ID}
	})
}

func (Detector) Memberships(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.TeamMembership], error) {
	return detect(ctx, query, q.ChangedMemberships, q.DeletedMembershipKeys, func(m model.TeamMembership) store.Position {
		return store.Position{At: m.UpdatedAt, ID: m.Key()}
	})
}

func (Detector) Notifications(ctx context.Context, q *store.Queries, query Query) (*ChangeSet[model.Notification], error) {
	return detect(ctx, query, q.ChangedNotifications, q.DeletedNotificationIDs, func(n model.Notification) store.Position {
		return store.Position{At: n.UpdatedAt, ID: n.ID}
	})
}

// ChangesSince fills the section of out that belongs to entityType.
func (d Detector) ChangesSince(ctx context.Context, q *store.Queries, entityType EntityType, query Query, out *Changes) error {
	var err error
	switch entityType {
	case Messages:
		out.Messages, err = d.Messages(ctx, q, query)
	case ReadReceipts:
		out.ReadReceipts, err = d.ReadReceipts(ctx, q, query)
	case PersonalTasks:
		out.PersonalTasks, err = d.PersonalTasks(ctx, q, query)
	case TeamTasks:
		out.TeamTasks, err = d.TeamTasks(ctx, q, query)
	case Subtasks:
		out.Subtasks, err = d.Subtasks(ctx, q, query)
	case Teams:
		out.Teams, err = d.Teams(ctx, q, query)
	case Memberships:
		out.Memberships, err = d.Memberships(ctx, q, query)
	case Notifications:
		out.Notifications, err = d.Notifications(ctx, q, query)
	default:
		return validationf("unknown entity type %q", entityType)
	}
	return err
}

// EncodePageToken renders a keyset position as an opaque token.
func EncodePageToken(p store.Position) string {
	raw := strconv.FormatInt(p.At.UTC().UnixMicro(), 10) + "|" + p.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodePageToken(token string) (*store.Position, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, validationf("malformed page token")
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, validationf("malformed page token")
	}
	us, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return nil, validationf("malformed page token")
	}
	return &store.Position{At: time.UnixMicro(us).UTC(), ID: id}, nil
}
