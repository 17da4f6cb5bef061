package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"teamsync-server/internal/store"
)

// resolve applies each record in order and returns how many were handled.
// Records naming a missing entity, or one the user may not modify, are
// skipped and not counted.
//
// The entity is loaded and overwritten without a version check, so a write
// landing between a client's pull and its resolution is silently replaced.
func (s *Service) resolve(ctx context.Context, q *store.Queries, userID string, records []ConflictRecord, now time.Time, fx *sideEffects) (int, error) {
	resolved := 0
	for _, rec := range records {
		var err error
		switch rec.Kind {
		case ConflictPersonalTask:
			err = s.resolvePersonalTask(ctx, q, userID, rec, now, fx)
		case ConflictTeamTask:
			err = s.resolveTeamTask(ctx, q, userID, rec, now, fx)
		case ConflictMessage:
			err = s.resolveMessage(ctx, q, userID, rec, now, fx)
		default:
			err = validationf("unknown conflict type %q", rec.Kind)
		}
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized), errors.Is(err, store.ErrNotFound):
		default:
			return 0, err
		}
	}
	return resolved, nil
}

// payloadAs narrows a record payload; a pointer or foreign payload type is a
// client error, not a panic.
func payloadAs[T Payload](rec ConflictRecord, p Payload) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, validationf("conflict %s/%s: unexpected payload %T", rec.Kind, rec.EntityID, p)
	}
	return v, nil
}

// localAndServer returns the overlay inputs a resolution needs; server is
// only read for merge.
func localAndServer[T Payload](rec ConflictRecord) (local, server T, err error) {
	if local, err = payloadAs[T](rec, rec.Local); err != nil {
		return local, server, err
	}
	if rec.Resolution == ResolveMerge {
		server, err = payloadAs[T](rec, rec.Server)
	}
	return local, server, err
}

func (s *Service) resolvePersonalTask(ctx context.Context, q *store.Queries, userID string, rec ConflictRecord, now time.Time, fx *sideEffects) error {
	task, err := q.GetPersonalTask(ctx, rec.EntityID)
	if err != nil {
		return err
	}
	if task.UserID != userID {
		return ErrUnauthorized
	}

	if rec.Resolution == ResolveServer {
		return nil
	}
	fields, server, err := localAndServer[TaskFields](rec)
	if err != nil {
		return err
	}
	if rec.Resolution == ResolveMerge {
		fields = server.Overlay(fields)
	}
	fields.applyPersonal(&task, now)
	if err := q.UpdatePersonalTask(ctx, task); err != nil {
		return err
	}
	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventTaskUpdated,
		Recipients: []string{userID},
		Data:       task,
	})
	return nil
}

func (s *Service) resolveTeamTask(ctx context.Context, q *store.Queries, userID string, rec ConflictRecord, now time.Time, fx *sideEffects) error {
	task, err := q.GetTeamTask(ctx, rec.EntityID)
	if err != nil {
		return err
	}
	member, err := q.IsMember(ctx, task.TeamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrUnauthorized
	}

	if rec.Resolution == ResolveServer {
		return nil
	}
	fields, server, err := localAndServer[TeamTaskFields](rec)
	if err != nil {
		return err
	}
	if rec.Resolution == ResolveMerge {
		fields = server.Overlay(fields)
	}
	fields.apply(&task, now)
	if err := q.UpdateTeamTask(ctx, task); err != nil {
		return err
	}
	members, err := q.TeamMemberIDs(ctx, task.TeamID)
	if err != nil {
		return err
	}
	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventTaskUpdated,
		TeamID:     task.TeamID,
		Recipients: members,
		Data:       task,
	})
	return nil
}

// resolveMessage lets a sender settle an offline edit. Merging keeps the
// server's body and appends the local one as an annotation.
func (s *Service) resolveMessage(ctx context.Context, q *store.Queries, userID string, rec ConflictRecord, now time.Time, fx *sideEffects) error {
	msg, err := q.GetMessage(ctx, rec.EntityID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return ErrUnauthorized
	}
	member, err := q.IsMember(ctx, msg.TeamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrUnauthorized
	}

	if rec.Resolution == ResolveServer {
		return nil
	}
	local, server, err := localAndServer[MessageFields](rec)
	if err != nil {
		return err
	}
	if local.Body == nil {
		return nil
	}
	body := *local.Body
	if rec.Resolution == ResolveMerge {
		serverBody := msg.Body
		if server.Body != nil {
			serverBody = *server.Body
		}
		body = editedBody(serverBody, *local.Body)
	}
	if err := q.UpdateMessageBody(ctx, msg.ID, body, now); err != nil {
		return err
	}
	msg.Body = body
	msg.UpdatedAt = &now

	members, err := q.TeamMemberIDs(ctx, msg.TeamID)
	if err != nil {
		return err
	}
	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventMessageUpdated,
		TeamID:     msg.TeamID,
		Recipients: members,
		Data:       msg,
	})
	return nil
}
