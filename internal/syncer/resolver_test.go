package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamsync-server/internal/model"
)

func decode(t *testing.T, kind, id, resolution, local, server string) ConflictRecord {
	t.Helper()
	var l, s json.RawMessage
	if local != "" {
		l = json.RawMessage(local)
	}
	if server != "" {
		s = json.RawMessage(server)
	}
	rec, err := DecodeConflict(kind, id, resolution, l, s)
	require.NoError(t, err)
	return rec
}

func (f *fixture) personalTask(t *testing.T, userID, title string) model.PersonalTask {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Push(ctx, userID, "seed", PushBatch{
		PersonalTasks: []PersonalTaskUpsert{{TaskFields: TaskFields{Title: strp(title)}}},
	})
	require.NoError(t, err)
	tasks, err := f.st.ListPersonalTasks(ctx, userID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Title == title {
			return task
		}
	}
	t.Fatalf("task %q not stored", title)
	return model.PersonalTask{}
}

func TestResolve_MergeKeepsServerFieldsUnderLocalEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.personalTask(t, "alice", "draft")

	rec := decode(t, "personal_task", task.ID, "merge",
		`{"title":"local title"}`,
		`{"title":"server title","priority":"urgent","status":"in_progress"}`)

	res, err := f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{rec})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)

	got, err := f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "local title", got.Title)
	require.Equal(t, model.PriorityUrgent, got.Priority)
	require.Equal(t, model.TaskInProgress, got.Status)
	require.False(t, got.UpdatedAt.After(res.SyncTime))

	// the same decision replayed produces the same row
	_, err = f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{rec})
	require.NoError(t, err)
	again, err := f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, got.Title, again.Title)
	require.Equal(t, got.Priority, again.Priority)
	require.Equal(t, got.Status, again.Status)
}

func TestResolve_LocalOverwritesAndServerIsCountedNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.personalTask(t, "alice", "draft")

	res, err := f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
		decode(t, "personal_task", task.ID, "server", "", `{"title":"ignored"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)
	got, err := f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", got.Title)
	require.Equal(t, task.UpdatedAt, got.UpdatedAt)

	res, err = f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
		decode(t, "personal_task", task.ID, "local", `{"status":"completed"}`, ""),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)
	got, err = f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, f.sink.ofType(EventTaskUpdated), 2)
}

func TestResolve_SkipsMissingAndForeignEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mine := f.personalTask(t, "alice", "mine")
	theirs := f.personalTask(t, "bob", "theirs")

	res, err := f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
		decode(t, "personal_task", mine.ID, "local", `{"title":"renamed"}`, ""),
		decode(t, "personal_task", theirs.ID, "local", `{"title":"stolen"}`, ""),
		decode(t, "personal_task", "missing", "local", `{"title":"ghost"}`, ""),
		decode(t, "team_task", "missing", "local", `{"assignee_id":"alice"}`, ""),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)

	got, err := f.st.GetPersonalTask(ctx, theirs.ID)
	require.NoError(t, err)
	require.Equal(t, "theirs", got.Title)
}

func TestResolve_TeamTaskMergeAndAssigneeClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	team := f.team(t, "alice", "bob")
	require.NoError(t, f.st.InsertTeamTask(ctx, model.TeamTask{
		ID: "tt", TeamID: team.ID, CreatorID: "alice", AssigneeID: strp("bob"),
		Title: "ship", Status: model.TaskPending, Priority: model.PriorityLow, CreatedAt: base, UpdatedAt: base,
	}))

	res, err := f.svc.ResolveConflicts(ctx, "bob", "laptop", []ConflictRecord{
		decode(t, "team_task", "tt", "merge", `{"assignee_id":""}`, `{"priority":"high","title":"ship it"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)

	got, err := f.st.GetTeamTask(ctx, "tt")
	require.NoError(t, err)
	require.Nil(t, got.AssigneeID)
	require.Equal(t, "ship it", got.Title)
	require.Equal(t, model.PriorityHigh, got.Priority)

	updates := f.sink.ofType(EventTaskUpdated)
	require.Len(t, updates, 1)
	require.Equal(t, []string{"alice", "bob"}, updates[0].Recipients)

	// outsiders cannot touch the team's tasks
	res, err = f.svc.ResolveConflicts(ctx, "mallory", "laptop", []ConflictRecord{
		decode(t, "team_task", "tt", "local", `{"title":"defaced"}`, ""),
	})
	require.NoError(t, err)
	require.Zero(t, res.ResolvedCount)
}

func TestResolve_MessageMergeAnnotatesServerBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	team := f.team(t, "alice", "bob")
	f.send(t, "alice", team.ID, "tmp-1", "meeting at 3")
	msgs, err := f.st.RecentMessages(ctx, team.ID, 1)
	require.NoError(t, err)
	id := msgs[0].ID

	res, err := f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
		decode(t, "message", id, "merge", `{"body":"meeting at 4"}`, `{"body":"meeting at 3"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ResolvedCount)

	got, err := f.st.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "meeting at 3\n\nEdited: meeting at 4", got.Body)
	require.NotNil(t, got.UpdatedAt)
	require.Len(t, f.sink.ofType(EventMessageUpdated), 1)

	// only the sender may settle edits
	res, err = f.svc.ResolveConflicts(ctx, "bob", "tablet", []ConflictRecord{
		decode(t, "message", id, "local", `{"body":"hijack"}`, ""),
	})
	require.NoError(t, err)
	require.Zero(t, res.ResolvedCount)
}

func TestResolveConflicts_MidBatchFailureRollsBackEarlierRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sync.db")
	f := newFixtureAt(t, path)
	team := f.team(t, "alice", "bob")
	task := f.personalTask(t, "alice", "draft")
	require.NoError(t, f.st.InsertTeamTask(ctx, model.TeamTask{
		ID: "tt", TeamID: team.ID, CreatorID: "alice",
		Title: "ship", Status: model.TaskPending, Priority: model.PriorityLow, CreatedAt: base, UpdatedAt: base,
	}))

	first, err := f.svc.Quick(ctx, "alice", "phone", base.Add(-time.Minute), nil, Page{})
	require.NoError(t, err)
	eventsBefore := len(f.sink.ofType(EventTaskUpdated))

	// a second handle on the same file makes every team task write fail
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `CREATE TRIGGER team_tasks_frozen BEFORE UPDATE ON team_tasks
		BEGIN SELECT RAISE(ABORT, 'team tasks frozen'); END`)
	require.NoError(t, err)

	res, err := f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
		decode(t, "personal_task", task.ID, "local", `{"title":"renamed"}`, ""),
		decode(t, "team_task", "tt", "local", `{"title":"shipped"}`, ""),
	})
	require.ErrorIs(t, err, ErrStore)
	require.Zero(t, res.ResolvedCount)

	got, err := f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", got.Title)

	cursor, err := f.svc.Cursor(ctx, "alice", "phone")
	require.NoError(t, err)
	require.Equal(t, first.SyncTime, *cursor)
	require.Len(t, f.sink.ofType(EventTaskUpdated), eventsBefore)
}

func TestResolveConflicts_PointerPayloadIsRejectedNotPanicking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.personalTask(t, "alice", "draft")

	var res ResolveResult
	var err error
	require.NotPanics(t, func() {
		res, err = f.svc.ResolveConflicts(ctx, "alice", "phone", []ConflictRecord{
			{Kind: ConflictPersonalTask, EntityID: task.ID, Resolution: ResolveLocal, Local: &TaskFields{Title: strp("renamed")}},
		})
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Zero(t, res.ResolvedCount)

	got, err := f.st.GetPersonalTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", got.Title)
}

func TestResolveConflicts_RejectsMalformedRecords(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ResolveConflicts(context.Background(), "alice", "phone", []ConflictRecord{
		{Kind: ConflictPersonalTask, EntityID: "x", Resolution: ResolveMerge, Local: TaskFields{}},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Zero(t, res.ResolvedCount)
}

func TestDecodeConflict_Validation(t *testing.T) {
	tests := []struct {
		name                 string
		kind, id, resolution string
		local, server        string
	}{
		{"unknown kind", "friendship", "1", "local", `{}`, ""},
		{"missing id", "message", "", "local", `{"body":"x"}`, ""},
		{"unknown resolution", "message", "1", "theirs", `{"body":"x"}`, ""},
		{"merge without server", "personal_task", "1", "merge", `{"title":"x"}`, ""},
		{"local without local", "team_task", "1", "local", "", `{"title":"x"}`},
		{"server without server", "message", "1", "server", `{"body":"x"}`, ""},
		{"bad status", "personal_task", "1", "local", `{"status":"someday"}`, ""},
		{"empty title", "team_task", "1", "local", `{"title":"  "}`, ""},
		{"not an object", "personal_task", "1", "local", `[1,2]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l, s json.RawMessage
			if tt.local != "" {
				l = json.RawMessage(tt.local)
			}
			if tt.server != "" {
				s = json.RawMessage(tt.server)
			}
			_, err := DecodeConflict(tt.kind, tt.id, tt.resolution, l, s)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestTaskFields_OverlayPrefersTop(t *testing.T) {
	high := model.PriorityHigh
	low := model.PriorityLow
	server := TaskFields{Title: strp("server"), Priority: &high}
	local := TaskFields{Title: strp("local")}

	merged := server.Overlay(local)
	require.Equal(t, "local", *merged.Title)
	require.Equal(t, model.PriorityHigh, *merged.Priority)

	merged = server.Overlay(TaskFields{Priority: &low})
	require.Equal(t, "server", *merged.Title)
	require.Equal(t, model.PriorityLow, *merged.Priority)
}
