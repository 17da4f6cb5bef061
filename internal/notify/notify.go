package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/pkg/errors"

	"teamsync-server/internal/model"
	"teamsync-server/internal/store"
	"teamsync-server/internal/syncer"
)

// TaskTypePush is the queue task consumed by the push delivery worker.
const TaskTypePush = "notification:push"

const pushQueue = "notifications"

// Enqueuer is the slice of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PushPayload is the body of a TaskTypePush task.
type PushPayload struct {
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

// Dispatcher records each notification in the recipient's inbox, where it is
// picked up by sync, and queues a push for delivery when a queue is set.
type Dispatcher struct {
	store *store.Store
	queue Enqueuer
	now   func() time.Time
}

var _ syncer.Notifier = (*Dispatcher)(nil)

func NewDispatcher(st *store.Store, queue Enqueuer, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{store: st, queue: queue, now: now}
}

// NewAsynqClient connects to the queue named by a redis:// URL.
func NewAsynqClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, errors.Wrap(err, "asynq: parse REDIS_URL")
	}
	return asynq.NewClient(opt), nil
}

func (d *Dispatcher) Notify(ctx context.Context, req syncer.NotificationRequest) error {
	if len(req.UserIDs) == 0 {
		return nil
	}
	if req.Type == "" {
		return errors.New("notify: type is required")
	}
	data := ""
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			return errors.Wrap(err, "notify: encode data")
		}
		data = string(raw)
	}

	var rows []model.Notification
	err := d.store.WithTx(ctx, func(q *store.Queries) error {
		// stamped while holding the connection so no pull can commit a later
		// sync_time before these rows are visible
		now := d.now().UTC().Truncate(time.Microsecond)
		rows = make([]model.Notification, 0, len(req.UserIDs))
		for _, userID := range req.UserIDs {
			n := model.Notification{
				ID:        uuid.NewString(),
				UserID:    userID,
				Type:      req.Type,
				Title:     req.Title,
				Body:      req.Body,
				Data:      data,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := q.InsertNotification(ctx, n); err != nil {
				return err
			}
			rows = append(rows, n)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "notify: store inbox")
	}

	if d.queue == nil {
		return nil
	}
	for _, n := range rows {
		payload, err := json.Marshal(PushPayload{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Type:           n.Type,
			Title:          n.Title,
			Body:           n.Body,
			Data:           req.Data,
		})
		if err != nil {
			return errors.Wrap(err, "notify: encode push")
		}
		task := asynq.NewTask(TaskTypePush, payload)
		if _, err := d.queue.EnqueueContext(ctx, task, asynq.Queue(pushQueue), asynq.MaxRetry(5), asynq.TaskID(n.ID)); err != nil {
			return errors.Wrapf(err, "notify: enqueue push for %s", n.UserID)
		}
	}
	return nil
}
