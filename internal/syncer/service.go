package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"teamsync-server/internal/model"
	"teamsync-server/internal/store"
)

const (
	defaultRecentMessages = 50
	maxPageLimit          = 1000
)

type Options struct {
	Events             EventSink
	Notifier           Notifier
	Clock              func() time.Time
	RecentMessageLimit int
}

// Service sequences change detection, ingestion and conflict resolution for
// one caller and always finishes by advancing that device's cursor.
type Service struct {
	store          *store.Store
	ledger         *Ledger
	detector       Detector
	events         EventSink
	notifier       Notifier
	now            func() time.Time
	recentMessages int
}

func NewService(st *store.Store, opts Options) *Service {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	events := opts.Events
	if events == nil {
		events = nopSink{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	limit := opts.RecentMessageLimit
	if limit <= 0 {
		limit = defaultRecentMessages
	}
	utcNow := func() time.Time { return now().UTC().Truncate(time.Microsecond) }
	return &Service{
		store:          st,
		ledger:         NewLedger(st, utcNow),
		events:         events,
		notifier:       notifier,
		now:            utcNow,
		recentMessages: limit,
	}
}

// Snapshot is the bootstrap payload for a device with no local state.
type Snapshot struct {
	Teams          []model.Team                   `json:"teams"`
	Memberships    []model.TeamMembership         `json:"memberships"`
	MessagesByTeam map[string][]model.ChatMessage `json:"messages_by_team"`
	PersonalTasks  []model.PersonalTask           `json:"personal_tasks"`
	TeamTasks      []model.TeamTask               `json:"team_tasks"`
	Subtasks       []model.Subtask                `json:"subtasks"`
	SyncTime       time.Time                      `json:"sync_time"`
}

// Page bounds an incremental pull. Tokens continue a previous truncated
// section and must be sent with the same since instant.
type Page struct {
	Limit  int
	Tokens map[EntityType]string
	TeamID string
}

type PullResult struct {
	Changes
	SyncTime time.Time `json:"sync_time"`
}

type ResolveResult struct {
	ResolvedCount int       `json:"resolved_count"`
	SyncTime      time.Time `json:"sync_time"`
}

// Initial returns everything a fresh device needs, ignoring any stored
// cursor.
func (s *Service) Initial(ctx context.Context, userID, deviceID string) (Snapshot, error) {
	if err := requireCaller(userID, deviceID); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		if snap.Teams, err = q.ListTeamsForUser(ctx, userID); err != nil {
			return err
		}
		if snap.Memberships, err = q.ListMemberships(ctx, userID); err != nil {
			return err
		}
		snap.MessagesByTeam = make(map[string][]model.ChatMessage, len(snap.Teams))
		for _, t := range snap.Teams {
			msgs, err := q.RecentMessages(ctx, t.ID, s.recentMessages)
			if err != nil {
				return err
			}
			snap.MessagesByTeam[t.ID] = msgs
		}
		if snap.PersonalTasks, err = q.ListPersonalTasks(ctx, userID); err != nil {
			return err
		}
		if snap.TeamTasks, err = q.ListAssignedTeamTasks(ctx, userID); err != nil {
			return err
		}
		parents := make([]model.TaskRef, 0, len(snap.PersonalTasks)+len(snap.TeamTasks))
		for _, t := range snap.PersonalTasks {
			parents = append(parents, model.PersonalRef(t.ID))
		}
		for _, t := range snap.TeamTasks {
			parents = append(parents, model.TeamRef(t.ID))
		}
		if snap.Subtasks, err = q.ListSubtasks(ctx, parents); err != nil {
			return err
		}
		snap.SyncTime = s.now()
		return nil
	})
	if err != nil {
		return Snapshot{}, classify("initial sync", err)
	}
	if err := s.advance(ctx, userID, deviceID, snap.SyncTime); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

var quickGroups = map[string][]EntityType{
	"messages": {Messages, ReadReceipts},
	"tasks":    {PersonalTasks, TeamTasks, Subtasks},
	"teams":    {Teams, Memberships},
}

var selectiveTypes = map[string][]EntityType{
	"personal_tasks": {PersonalTasks},
	"team_tasks":     {TeamTasks},
	"messages":       {Messages},
	"teams":          {Teams, Memberships},
	"notifications":  {Notifications},
	"subtasks":       {Subtasks},
	"read_receipts":  {ReadReceipts},
}

// Quick pulls the changes since the caller's last sync_time for the include
// groups (messages, tasks, teams); all groups when include is empty.
func (s *Service) Quick(ctx context.Context, userID, deviceID string, since time.Time, include []string, page Page) (PullResult, error) {
	if len(include) == 0 {
		include = []string{"messages", "tasks", "teams"}
	}
	types, err := expandTypes(include, quickGroups, "include")
	if err != nil {
		return PullResult{}, err
	}
	return s.pull(ctx, userID, deviceID, since, types, page, "quick sync")
}

// Selective pulls only the named entity types.
func (s *Service) Selective(ctx context.Context, userID, deviceID string, since time.Time, types []string, page Page) (PullResult, error) {
	if len(types) == 0 {
		return PullResult{}, validationf("types must not be empty")
	}
	expanded, err := expandTypes(types, selectiveTypes, "type")
	if err != nil {
		return PullResult{}, err
	}
	return s.pull(ctx, userID, deviceID, since, expanded, page, "selective sync")
}

func (s *Service) pull(ctx context.Context, userID, deviceID string, since time.Time, types []EntityType, page Page, op string) (PullResult, error) {
	if err := requireCaller(userID, deviceID); err != nil {
		return PullResult{}, err
	}
	if since.IsZero() {
		return PullResult{}, validationf("last_synced_at is required")
	}
	if page.Limit < 0 || page.Limit > maxPageLimit {
		return PullResult{}, validationf("limit must be between 0 and %d", maxPageLimit)
	}
	after := make(map[EntityType]*store.Position, len(page.Tokens))
	for t, token := range page.Tokens {
		if token == "" {
			continue
		}
		pos, err := DecodePageToken(token)
		if err != nil {
			return PullResult{}, err
		}
		after[t] = pos
	}

	var res PullResult
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		for _, t := range types {
			query := Query{
				UserID: userID,
				Since:  since.UTC(),
				Limit:  page.Limit,
				After:  after[t],
				TeamID: page.TeamID,
			}
			if err := s.detector.ChangesSince(ctx, q, t, query, &res.Changes); err != nil {
				return err
			}
		}
		res.SyncTime = s.now()
		return nil
	})
	if err != nil {
		return PullResult{}, classify(op, err)
	}
	if err := s.advance(ctx, userID, deviceID, res.SyncTime); err != nil {
		return PullResult{}, err
	}
	return res, nil
}

// Push applies a batch of offline mutations in one transaction. The cursor
// only moves when the batch commits.
func (s *Service) Push(ctx context.Context, userID, deviceID string, batch PushBatch) (PushResult, error) {
	if err := requireCaller(userID, deviceID); err != nil {
		return PushResult{}, err
	}
	if err := batch.validate(); err != nil {
		return PushResult{}, err
	}

	var (
		res PushResult
		fx  sideEffects
	)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		res, fx = PushResult{}, sideEffects{}
		if err := s.ingest(ctx, q, userID, batch, s.now(), &fx, &res); err != nil {
			return err
		}
		res.SyncTime = s.now()
		return nil
	})
	if err != nil {
		return PushResult{}, classify("push", err)
	}
	s.flush(ctx, userID, deviceID, &fx, res.SyncTime)
	if err := s.advance(ctx, userID, deviceID, res.SyncTime); err != nil {
		return PushResult{}, err
	}
	return res, nil
}

// ResolveConflicts applies the client's decisions in one transaction.
func (s *Service) ResolveConflicts(ctx context.Context, userID, deviceID string, records []ConflictRecord) (ResolveResult, error) {
	if err := requireCaller(userID, deviceID); err != nil {
		return ResolveResult{}, err
	}
	for _, rec := range records {
		if err := rec.validate(); err != nil {
			return ResolveResult{}, err
		}
	}

	var (
		res ResolveResult
		fx  sideEffects
	)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		fx = sideEffects{}
		n, err := s.resolve(ctx, q, userID, records, s.now(), &fx)
		if err != nil {
			return err
		}
		res.ResolvedCount = n
		res.SyncTime = s.now()
		return nil
	})
	if err != nil {
		return ResolveResult{}, classify("resolve conflicts", err)
	}
	s.flush(ctx, userID, deviceID, &fx, res.SyncTime)
	if err := s.advance(ctx, userID, deviceID, res.SyncTime); err != nil {
		return ResolveResult{}, err
	}
	return res, nil
}

// Cursor reports the device's last sync instant, if any.
func (s *Service) Cursor(ctx context.Context, userID, deviceID string) (*time.Time, error) {
	if err := requireCaller(userID, deviceID); err != nil {
		return nil, err
	}
	at, ok, err := s.ledger.Cursor(ctx, userID, deviceID)
	if err != nil {
		return nil, classify("get cursor", err)
	}
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// advance runs after commit. Its failure is reported even though the data is
// already stored; retrying the call is safe.
func (s *Service) advance(ctx context.Context, userID, deviceID string, at time.Time) error {
	if err := s.ledger.Advance(ctx, userID, deviceID, at); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("device_id", deviceID).Msg("sync: cursor advance failed after commit")
		return classify("advance cursor", err)
	}
	return nil
}

func requireCaller(userID, deviceID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationf("missing user id")
	}
	if strings.TrimSpace(deviceID) == "" {
		return validationf("device_id is required")
	}
	return nil
}

func expandTypes(names []string, table map[string][]EntityType, what string) ([]EntityType, error) {
	seen := make(map[EntityType]bool)
	var out []EntityType
	for _, name := range names {
		types, ok := table[strings.TrimSpace(name)]
		if !ok {
			return nil, validationf("unknown %s %q", what, name)
		}
		for _, t := range types {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}
