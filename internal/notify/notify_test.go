package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"teamsync-server/internal/store"
	"teamsync-server/internal/syncer"
)

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNotify_StoresInboxAndEnqueuesPush(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	q := &fakeQueue{}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(st, q, func() time.Time { return now })

	err := d.Notify(ctx, syncer.NotificationRequest{
		UserIDs: []string{"bob", "carol"},
		Type:    "message",
		Title:   "New message",
		Body:    "hi",
		Data:    map[string]string{"team_id": "t1"},
	})
	require.NoError(t, err)

	inbox, err := st.ChangedNotifications(ctx, "bob", store.ChangeFilter{Since: now.Add(-time.Second)})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "New message", inbox[0].Title)
	require.JSONEq(t, `{"team_id":"t1"}`, inbox[0].Data)

	require.Len(t, q.tasks, 2)
	require.Equal(t, TaskTypePush, q.tasks[0].Type())
	var payload PushPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, "bob", payload.UserID)
	require.Equal(t, inbox[0].ID, payload.NotificationID)
}

func TestNotify_WithoutQueueOnlyStoresInbox(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(st, nil, func() time.Time { return now })

	require.NoError(t, d.Notify(ctx, syncer.NotificationRequest{UserIDs: []string{"bob"}, Type: "message"}))

	inbox, err := st.ChangedNotifications(ctx, "bob", store.ChangeFilter{Since: now.Add(-time.Second)})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
}

func TestNotify_QueueFailureIsReported(t *testing.T) {
	st := openStore(t)
	d := NewDispatcher(st, &fakeQueue{err: errors.New("redis down")}, nil)

	err := d.Notify(context.Background(), syncer.NotificationRequest{UserIDs: []string{"bob"}, Type: "message"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis down")
}

func TestNotify_RejectsMissingType(t *testing.T) {
	d := NewDispatcher(openStore(t), nil, nil)
	require.Error(t, d.Notify(context.Background(), syncer.NotificationRequest{UserIDs: []string{"bob"}}))
}

func TestNotify_InboxSyncsThroughSelectivePull(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	start := time.Now().Add(-time.Minute)
	team, err := st.CreateTeam(ctx, "core", "", "alice", start)
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, team.ID, "bob", "", start))

	svc := syncer.NewService(st, syncer.Options{Notifier: NewDispatcher(st, nil, nil)})
	_, err = svc.Push(ctx, "alice", "phone", syncer.PushBatch{
		Messages: []syncer.OutgoingMessage{{ClientTempID: "tmp-1", TeamID: team.ID, Body: "standup moved"}},
	})
	require.NoError(t, err)

	res, err := svc.Selective(ctx, "bob", "tablet", start, []string{"notifications"}, syncer.Page{})
	require.NoError(t, err)
	require.Len(t, res.Notifications.Updated, 1)
	require.Equal(t, "standup moved", res.Notifications.Updated[0].Body)

	res, err = svc.Selective(ctx, "alice", "laptop", start, []string{"notifications"}, syncer.Page{})
	require.NoError(t, err)
	require.Empty(t, res.Notifications.Updated)
}

// tickClock hands out strictly increasing instants to every caller.
type tickClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Millisecond)
	return t
}

func TestNotify_PullRacingTheInboxWriteStillSeesIt(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &tickClock{next: start.Add(time.Second)}
	svc := syncer.NewService(st, syncer.Options{Clock: clock.Now})

	type pulled struct {
		res syncer.PullResult
		err error
	}
	done := make(chan pulled, 1)
	var once sync.Once
	d := NewDispatcher(st, nil, func() time.Time {
		// a pull started while the dispatcher stamps its rows must not
		// finish with a sync_time ahead of them
		once.Do(func() {
			go func() {
				res, err := svc.Selective(ctx, "bob", "tablet", start, []string{"notifications"}, syncer.Page{})
				done <- pulled{res, err}
			}()
			select {
			case p := <-done:
				done <- p
			case <-time.After(50 * time.Millisecond):
			}
		})
		return clock.Now()
	})

	require.NoError(t, d.Notify(ctx, syncer.NotificationRequest{UserIDs: []string{"bob"}, Type: "message", Body: "ping"}))

	first := <-done
	require.NoError(t, first.err)
	next, err := svc.Selective(ctx, "bob", "tablet", first.res.SyncTime, []string{"notifications"}, syncer.Page{})
	require.NoError(t, err)

	seen := len(first.res.Notifications.Updated) + len(next.Notifications.Updated)
	require.Equal(t, 1, seen)
}
