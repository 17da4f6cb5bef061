package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Realtime event types published after a successful commit.
const (
	EventMessageCreated = "message.created"
	EventMessageRead    = "message.read"
	EventMessageUpdated = "message.updated"
	EventTaskUpdated    = "task.updated"
)

// Event is a fire-and-forget realtime update addressed to a set of users.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	TeamID       string    `json:"team_id,omitempty"`
	Recipients   []string  `json:"recipients"`
	OriginUser   string    `json:"origin_user"`
	OriginDevice string    `json:"origin_device"`
	Data         any       `json:"data"`
	At           time.Time `json:"at"`
}

// EventSink delivers realtime events. Failures never undo committed data.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}

// NotificationRequest asks the notification collaborator to inform users.
type NotificationRequest struct {
	UserIDs []string          `json:"user_ids"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// Notifier enqueues notifications. Same fire-and-forget contract as EventSink.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, NotificationRequest) error { return nil }

// sideEffects collects what a batch wants to announce; it is flushed only
// after the transaction commits.
type sideEffects struct {
	events        []Event
	notifications []NotificationRequest
}

func (s *Service) flush(ctx context.Context, userID, deviceID string, fx *sideEffects, at time.Time) {
	for _, evt := range fx.events {
		evt.OriginUser = userID
		evt.OriginDevice = deviceID
		evt.At = at
		if err := s.events.Publish(ctx, evt); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("device_id", deviceID).
				Str("event", evt.Type).
				Str("team_id", evt.TeamID).
				Msg("sync: broadcast failed")
		}
	}
	for _, req := range fx.notifications {
		if err := s.notifier.Notify(ctx, req); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("device_id", deviceID).
				Str("type", req.Type).
				Msg("sync: notification enqueue failed")
		}
	}
}
