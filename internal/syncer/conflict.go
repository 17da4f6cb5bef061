package syncer

import (
	"encoding/json"
	"strings"
	"time"

	"teamsync-server/internal/model"
)

// Resolution is the client's decision for one conflict.
type Resolution string

const (
	ResolveLocal  Resolution = "local"
	ResolveServer Resolution = "server"
	ResolveMerge  Resolution = "merge"
)

func (r Resolution) valid() bool {
	switch r {
	case ResolveLocal, ResolveServer, ResolveMerge:
		return true
	}
	return false
}

// ConflictKind names the entity a conflict record refers to.
type ConflictKind string

const (
	ConflictPersonalTask ConflictKind = "personal_task"
	ConflictTeamTask     ConflictKind = "team_task"
	ConflictMessage      ConflictKind = "message"
)

// Payload is one side of a conflict: a closed set of optional fields where a
// nil field leaves the stored value untouched.
type Payload interface {
	conflictKind() ConflictKind
	validate() error
}

// TaskFields are the mutable fields shared by personal and team tasks.
type TaskFields struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *model.TaskStatus `json:"status,omitempty"`
	Priority    *model.Priority   `json:"priority,omitempty"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
}

func (TaskFields) conflictKind() ConflictKind { return ConflictPersonalTask }

func (f TaskFields) validate() error {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return validationf("task title must not be empty")
	}
	if f.Status != nil && !f.Status.Valid() {
		return validationf("unknown task status %q", *f.Status)
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return validationf("unknown task priority %q", *f.Priority)
	}
	return nil
}

// Overlay returns f with every field set in top replacing the one in f.
func (f TaskFields) Overlay(top TaskFields) TaskFields {
	if top.Title != nil {
		f.Title = top.Title
	}
	if top.Description != nil {
		f.Description = top.Description
	}
	if top.Status != nil {
		f.Status = top.Status
	}
	if top.Priority != nil {
		f.Priority = top.Priority
	}
	if top.DueDate != nil {
		f.DueDate = top.DueDate
	}
	return f
}

func (f TaskFields) empty() bool {
	return f.Title == nil && f.Description == nil && f.Status == nil && f.Priority == nil && f.DueDate == nil
}

// applyPersonal writes the set fields into t. Moving to completed stamps
// completed_at; any other status clears it.
func (f TaskFields) applyPersonal(t *model.PersonalTask, now time.Time) {
	applyTask(f, &t.Title, &t.Description, &t.Status, &t.Priority, &t.DueDate, &t.CompletedAt, now)
	t.UpdatedAt = now
}

func (f TaskFields) applyTeam(t *model.TeamTask, now time.Time) {
	applyTask(f, &t.Title, &t.Description, &t.Status, &t.Priority, &t.DueDate, &t.CompletedAt, now)
	t.UpdatedAt = now
}

func applyTask(f TaskFields, title, desc *string, status *model.TaskStatus, priority *model.Priority, due, completed **time.Time, now time.Time) {
	if f.Title != nil {
		*title = *f.Title
	}
	if f.Description != nil {
		*desc = *f.Description
	}
	if f.Priority != nil {
		*priority = *f.Priority
	}
	if f.DueDate != nil {
		d := f.DueDate.UTC()
		*due = &d
	}
	if f.Status != nil {
		if *f.Status == model.TaskCompleted {
			if *status != model.TaskCompleted || *completed == nil {
				at := now
				*completed = &at
			}
		} else {
			*completed = nil
		}
		*status = *f.Status
	}
}

// TeamTaskFields adds the assignee to the shared task fields.
type TeamTaskFields struct {
	TaskFields
	AssigneeID *string `json:"assignee_id,omitempty"`
}

func (TeamTaskFields) conflictKind() ConflictKind { return ConflictTeamTask }

func (f TeamTaskFields) Overlay(top TeamTaskFields) TeamTaskFields {
	f.TaskFields = f.TaskFields.Overlay(top.TaskFields)
	if top.AssigneeID != nil {
		f.AssigneeID = top.AssigneeID
	}
	return f
}

func (f TeamTaskFields) apply(t *model.TeamTask, now time.Time) {
	f.TaskFields.applyTeam(t, now)
	if f.AssigneeID != nil {
		if *f.AssigneeID == "" {
			t.AssigneeID = nil
		} else {
			a := *f.AssigneeID
			t.AssigneeID = &a
		}
	}
}

// MessageFields is the editable part of a chat message.
type MessageFields struct {
	Body *string `json:"body,omitempty"`
}

func (MessageFields) conflictKind() ConflictKind { return ConflictMessage }

func (MessageFields) validate() error { return nil }

// editedBody annotates the server's body with the local edit.
func editedBody(server, local string) string {
	return server + "\n\nEdited: " + local
}

// ConflictRecord is a client's resolution for one entity. Local is required
// for local and merge; Server is required for server and merge.
type ConflictRecord struct {
	Kind       ConflictKind
	EntityID   string
	Resolution Resolution
	Local      Payload
	Server     Payload
}

func (c ConflictRecord) validate() error {
	if strings.TrimSpace(c.EntityID) == "" {
		return validationf("conflict %s: missing id", c.Kind)
	}
	if !c.Resolution.valid() {
		return validationf("conflict %s/%s: unknown resolution %q", c.Kind, c.EntityID, c.Resolution)
	}
	needLocal := c.Resolution == ResolveLocal || c.Resolution == ResolveMerge
	needServer := c.Resolution == ResolveServer || c.Resolution == ResolveMerge
	if needLocal && c.Local == nil {
		return validationf("conflict %s/%s: %s resolution needs local_data", c.Kind, c.EntityID, c.Resolution)
	}
	if needServer && c.Server == nil {
		return validationf("conflict %s/%s: %s resolution needs server_data", c.Kind, c.EntityID, c.Resolution)
	}
	for _, p := range []Payload{c.Local, c.Server} {
		if p == nil {
			continue
		}
		if p.conflictKind() != c.Kind {
			return validationf("conflict %s/%s: payload type mismatch", c.Kind, c.EntityID)
		}
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeConflict builds a typed record from wire payloads, resolving the
// entity kind once so handlers never see untyped maps.
func DecodeConflict(kind, id, resolution string, local, server json.RawMessage) (ConflictRecord, error) {
	rec := ConflictRecord{Kind: ConflictKind(kind), EntityID: id, Resolution: Resolution(resolution)}
	var err error
	switch rec.Kind {
	case ConflictPersonalTask:
		rec.Local, err = decodePayload[TaskFields](local)
		if err == nil {
			rec.Server, err = decodePayload[TaskFields](server)
		}
	case ConflictTeamTask:
		rec.Local, err = decodePayload[TeamTaskFields](local)
		if err == nil {
			rec.Server, err = decodePayload[TeamTaskFields](server)
		}
	case ConflictMessage:
		rec.Local, err = decodePayload[MessageFields](local)
		if err == nil {
			rec.Server, err = decodePayload[MessageFields](server)
		}
	default:
		return ConflictRecord{}, validationf("unknown conflict type %q", kind)
	}
	if err != nil {
		return ConflictRecord{}, validationf("conflict %s/%s: %v", kind, id, err)
	}
	return rec, rec.validate()
}

func decodePayload[T Payload](raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
