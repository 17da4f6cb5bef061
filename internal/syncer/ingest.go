package syncer

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"teamsync-server/internal/model"
	"teamsync-server/internal/store"
)

// OutgoingMessage is a message composed offline. ClientTempID is the
// idempotency key.
type OutgoingMessage struct {
	ClientTempID  string  `json:"client_temp_id"`
	TeamID        string  `json:"team_id"`
	Body          string  `json:"body"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
	ReplyToID     *string `json:"reply_to_id,omitempty"`
}

// ReadStatus marks a message read by the pushing user.
type ReadStatus struct {
	MessageID string     `json:"message_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// PersonalTaskUpsert updates the task with ID when set, otherwise creates a
// task owned by the pushing user.
type PersonalTaskUpsert struct {
	ID string `json:"id,omitempty"`
	TaskFields
}

type PushBatch struct {
	Messages      []OutgoingMessage    `json:"messages"`
	ReadStatuses  []ReadStatus         `json:"read_statuses"`
	PersonalTasks []PersonalTaskUpsert `json:"personal_tasks"`
}

type PushResult struct {
	Applied           int       `json:"applied"`
	SkippedDuplicates int       `json:"skipped_duplicates"`
	SyncTime          time.Time `json:"sync_time"`
}

func (b PushBatch) validate() error {
	for i, m := range b.Messages {
		if strings.TrimSpace(m.ClientTempID) == "" {
			return validationf("messages[%d]: missing client_temp_id", i)
		}
		if strings.TrimSpace(m.TeamID) == "" {
			return validationf("messages[%d]: missing team_id", i)
		}
		if strings.TrimSpace(m.Body) == "" && (m.AttachmentRef == nil || *m.AttachmentRef == "") {
			return validationf("messages[%d]: empty message", i)
		}
	}
	for i, r := range b.ReadStatuses {
		if strings.TrimSpace(r.MessageID) == "" {
			return validationf("read_statuses[%d]: missing message_id", i)
		}
	}
	for i, t := range b.PersonalTasks {
		if t.ID == "" && (t.Title == nil || strings.TrimSpace(*t.Title) == "") {
			return validationf("personal_tasks[%d]: new task needs a title", i)
		}
		if t.ID != "" && t.TaskFields.empty() {
			return validationf("personal_tasks[%d]: update carries no fields", i)
		}
		if err := t.TaskFields.validate(); err != nil {
			return errors.Wrapf(err, "personal_tasks[%d]", i)
		}
	}
	return nil
}

// ingest applies a validated batch inside tx in submitted order. Side effects
// are collected into fx and only announced by the caller after commit.
func (s *Service) ingest(ctx context.Context, q *store.Queries, userID string, b PushBatch, now time.Time, fx *sideEffects, res *PushResult) error {
	for _, m := range b.Messages {
		applied, err := s.ingestMessage(ctx, q, userID, m, now, fx)
		if err != nil {
			return err
		}
		if applied {
			res.Applied++
		} else {
			res.SkippedDuplicates++
		}
	}
	for _, r := range b.ReadStatuses {
		applied, err := s.ingestReadStatus(ctx, q, userID, r, now, fx)
		if err != nil {
			return err
		}
		if applied {
			res.Applied++
		}
	}
	for _, t := range b.PersonalTasks {
		applied, err := s.ingestPersonalTask(ctx, q, userID, t, now, fx)
		if err != nil {
			return err
		}
		if applied {
			res.Applied++
		}
	}
	return nil
}

// ingestMessage reports false when the sender already consumed the
// client_temp_id.
// Pushing into a team the user does not belong to fails the whole batch.
func (s *Service) ingestMessage(ctx context.Context, q *store.Queries, userID string, in OutgoingMessage, now time.Time, fx *sideEffects) (bool, error) {
	_, err := q.GetMessageByClientTempID(ctx, userID, in.ClientTempID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	member, err := q.IsMember(ctx, in.TeamID, userID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, errors.Wrapf(ErrUnauthorized, "message %s: not a member of team %s", in.ClientTempID, in.TeamID)
	}

	msg := model.ChatMessage{
		ID:            uuid.NewString(),
		TeamID:        in.TeamID,
		SenderID:      userID,
		Body:          in.Body,
		AttachmentRef: in.AttachmentRef,
		Status:        model.MessageSent,
		ClientTempID:  in.ClientTempID,
		CreatedAt:     now,
	}
	if in.ReplyToID != nil && *in.ReplyToID != "" {
		parent, err := q.GetMessage(ctx, *in.ReplyToID)
		switch {
		case err == nil && parent.TeamID == in.TeamID:
			msg.ReplyToID = in.ReplyToID
		case err == nil, errors.Is(err, store.ErrNotFound):
			log.Debug().Str("client_temp_id", in.ClientTempID).Str("reply_to_id", *in.ReplyToID).
				Msg("sync: dropping unknown reply target")
		default:
			return false, err
		}
	}
	if err := q.InsertMessage(ctx, msg); err != nil {
		return false, err
	}

	members, err := q.TeamMemberIDs(ctx, in.TeamID)
	if err != nil {
		return false, err
	}
	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventMessageCreated,
		TeamID:     msg.TeamID,
		Recipients: members,
		Data:       msg,
	})
	if others := without(members, userID); len(others) > 0 {
		fx.notifications = append(fx.notifications, NotificationRequest{
			UserIDs: others,
			Type:    "message",
			Title:   "New message",
			Body:    preview(msg.Body, 120),
			Data:    map[string]string{"team_id": msg.TeamID, "message_id": msg.ID},
		})
	}
	return true, nil
}

// ingestReadStatus skips receipts for messages that are gone or outside the
// user's teams.
func (s *Service) ingestReadStatus(ctx context.Context, q *store.Queries, userID string, in ReadStatus, now time.Time, fx *sideEffects) (bool, error) {
	msg, err := q.GetMessage(ctx, in.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	member, err := q.IsMember(ctx, msg.TeamID, userID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}

	readAt := now
	if in.ReadAt != nil && !in.ReadAt.IsZero() && !in.ReadAt.After(now) {
		readAt = in.ReadAt.UTC()
	}
	receipt := model.ReadReceipt{MessageID: msg.ID, UserID: userID, TeamID: msg.TeamID, ReadAt: readAt, RecordedAt: now}
	inserted, err := q.InsertReadReceipt(ctx, receipt)
	if err != nil || !inserted {
		return false, err
	}

	// the first reader other than the sender marks the message delivered
	if msg.SenderID != userID && msg.Status != model.MessageDelivered && msg.Status.CanTransition(model.MessageDelivered) {
		if err := q.UpdateMessageStatus(ctx, msg.ID, model.MessageDelivered, now); err != nil {
			return false, err
		}
	}

	members, err := q.TeamMemberIDs(ctx, msg.TeamID)
	if err != nil {
		return false, err
	}
	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventMessageRead,
		TeamID:     msg.TeamID,
		Recipients: members,
		Data:       receipt,
	})
	return true, nil
}

// ingestPersonalTask patches only the fields present; an id that is unknown
// or owned by someone else is skipped.
func (s *Service) ingestPersonalTask(ctx context.Context, q *store.Queries, userID string, in PersonalTaskUpsert, now time.Time, fx *sideEffects) (bool, error) {
	var task model.PersonalTask
	if in.ID == "" {
		task = model.PersonalTask{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    model.TaskPending,
			Priority:  model.PriorityMedium,
			CreatedAt: now,
		}
		in.TaskFields.applyPersonal(&task, now)
		if err := q.InsertPersonalTask(ctx, task); err != nil {
			return false, err
		}
	} else {
		existing, err := q.GetPersonalTask(ctx, in.ID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if existing.UserID != userID {
			return false, nil
		}
		task = existing
		in.TaskFields.applyPersonal(&task, now)
		if err := q.UpdatePersonalTask(ctx, task); err != nil {
			return false, err
		}
	}

	fx.events = append(fx.events, Event{
		ID:         uuid.NewString(),
		Type:       EventTaskUpdated,
		Recipients: []string{userID},
		Data:       task,
	})
	return true, nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func preview(body string, max int) string {
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	r := []rune(body)
	return string(r[:max]) + "…"
}
