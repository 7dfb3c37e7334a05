package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
)

type fakeTombstoneRepo struct {
	rows map[string]*models.Tombstone
}

func newFakeTombstoneRepo() *fakeTombstoneRepo {
	return &fakeTombstoneRepo{rows: make(map[string]*models.Tombstone)}
}

func (f *fakeTombstoneRepo) rowKey(accountID string, kind enum.EntityKind, serverID string) string {
	return accountID + ":" + kind.String() + ":" + serverID
}

func (f *fakeTombstoneRepo) Add(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	f.rows[f.rowKey(accountID, kind, serverID)] = &models.Tombstone{
		AccountID: accountID,
		Kind:      kind,
		ServerID:  serverID,
	}
	return nil
}

func (f *fakeTombstoneRepo) Exists(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error) {
	_, ok := f.rows[f.rowKey(accountID, kind, serverID)]
	return ok, nil
}

func (f *fakeTombstoneRepo) ListByKind(ctx context.Context, accountID string, kind enum.EntityKind) ([]*models.Tombstone, error) {
	var out []*models.Tombstone
	for _, ts := range f.rows {
		if ts.AccountID == accountID && ts.Kind == kind {
			out = append(out, ts)
		}
	}
	return out, nil
}

func (f *fakeTombstoneRepo) Remove(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	delete(f.rows, f.rowKey(accountID, kind, serverID))
	return nil
}

func (f *fakeTombstoneRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	for key, ts := range f.rows {
		if ts.AccountID == accountID {
			delete(f.rows, key)
		}
	}
	return nil
}

func TestTrackerMarkAndCheck(t *testing.T) {
	tracker := NewTracker(newFakeTombstoneRepo())
	ctx := context.Background()

	require.NoError(t, tracker.MarkDeleted(ctx, "acct-1", enum.EVENT, "ev1"))

	tombstoned, err := tracker.IsTombstoned(ctx, "acct-1", enum.EVENT, "ev1")
	require.NoError(t, err)
	assert.True(t, tombstoned)

	// Same identifier under another kind is a different tombstone.
	tombstoned, err = tracker.IsTombstoned(ctx, "acct-1", enum.NOTE, "ev1")
	require.NoError(t, err)
	assert.False(t, tombstoned)
}

func TestTrackerConfirmRemovesEntry(t *testing.T) {
	tracker := NewTracker(newFakeTombstoneRepo())
	ctx := context.Background()

	require.NoError(t, tracker.MarkDeleted(ctx, "acct-1", enum.EVENT, "ev1"))
	require.NoError(t, tracker.Confirm(ctx, "acct-1", enum.EVENT, "ev1"))

	tombstoned, err := tracker.IsTombstoned(ctx, "acct-1", enum.EVENT, "ev1")
	require.NoError(t, err)
	assert.False(t, tombstoned)
}

func TestTrackerConfirmAgainstServerSet(t *testing.T) {
	tracker := NewTracker(newFakeTombstoneRepo())
	ctx := context.Background()

	require.NoError(t, tracker.MarkDeleted(ctx, "acct-1", enum.EVENT, "ev-confirmed"))
	require.NoError(t, tracker.MarkDeleted(ctx, "acct-1", enum.EVENT, "ev-lagging"))
	require.NoError(t, tracker.MarkDeleted(ctx, "acct-1", enum.NOTE, "note-untouched"))

	// The server still returns ev-lagging, so only ev-confirmed is dropped.
	err := tracker.ConfirmAgainstServerSet(ctx, "acct-1", enum.EVENT, []string{"ev-lagging", "ev-other"})
	require.NoError(t, err)

	tombstoned, _ := tracker.IsTombstoned(ctx, "acct-1", enum.EVENT, "ev-confirmed")
	assert.False(t, tombstoned)
	tombstoned, _ = tracker.IsTombstoned(ctx, "acct-1", enum.EVENT, "ev-lagging")
	assert.True(t, tombstoned)
	// Other kinds are out of scope for the confirmation.
	tombstoned, _ = tracker.IsTombstoned(ctx, "acct-1", enum.NOTE, "note-untouched")
	assert.True(t, tombstoned)
}
