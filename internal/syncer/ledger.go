package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"teamsync-server/internal/store"
)

// Ledger records, per (user, device), the instant of the last successful
// sync call.
type Ledger struct {
	store *store.Store
	now   func() time.Time
}

func NewLedger(st *store.Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, now: now}
}

// Cursor returns the stored instant and whether one exists.
func (l *Ledger) Cursor(ctx context.Context, userID, deviceID string) (time.Time, bool, error) {
	c, err := l.store.GetCursor(ctx, userID, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return c.LastSyncedAt, true, nil
}

// Advance upserts the cursor. Replaying the same instant is a no-op.
func (l *Ledger) Advance(ctx context.Context, userID, deviceID string, at time.Time) error {
	return l.store.UpsertCursor(ctx, userID, deviceID, at, l.now())
}
