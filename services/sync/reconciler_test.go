package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/utils"
)

type fakeTombstones struct {
	entries   map[string]bool
	confirmed []string
}

func newFakeTombstones() *fakeTombstones {
	return &fakeTombstones{entries: make(map[string]bool)}
}

func tombstoneKey(kind enum.EntityKind, serverID string) string {
	return kind.String() + ":" + serverID
}

func (f *fakeTombstones) MarkDeleted(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	f.entries[tombstoneKey(kind, serverID)] = true
	return nil
}

func (f *fakeTombstones) IsTombstoned(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error) {
	return f.entries[tombstoneKey(kind, serverID)], nil
}

func (f *fakeTombstones) Confirm(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	delete(f.entries, tombstoneKey(kind, serverID))
	f.confirmed = append(f.confirmed, serverID)
	return nil
}

func (f *fakeTombstones) ConfirmAgainstServerSet(ctx context.Context, accountID string, kind enum.EntityKind, returnedIDs []string) error {
	returned := make(map[string]bool, len(returnedIDs))
	for _, id := range returnedIDs {
		returned[id] = true
	}
	for key := range f.entries {
		serverID := key[len(kind.String())+1:]
		if !returned[serverID] {
			delete(f.entries, key)
			f.confirmed = append(f.confirmed, serverID)
		}
	}
	return nil
}

type fakeNoteStore struct {
	items map[string]*models.Note
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{items: make(map[string]*models.Note)}
}

func (f *fakeNoteStore) add(n *models.Note) {
	copied := *n
	f.items[n.ServerID] = &copied
}

func (f *fakeNoteStore) asItemStore() itemStore[*models.Note] {
	return itemStore[*models.Note]{
		list: func(ctx context.Context) ([]*models.Note, error) {
			out := make([]*models.Note, 0, len(f.items))
			for _, n := range f.items {
				copied := *n
				out = append(out, &copied)
			}
			return out, nil
		},
		upsert: func(ctx context.Context, n *models.Note) error {
			copied := *n
			f.items[n.ServerID] = &copied
			return nil
		},
		remove: func(ctx context.Context, serverID string) error {
			delete(f.items, serverID)
			return nil
		},
		softDelete: func(ctx context.Context, serverID string) error {
			n, ok := f.items[serverID]
			if !ok {
				return nil
			}
			n.SoftDeleted = true
			n.SoftDeletedAt = utils.TimePtr(utils.Now())
			return nil
		},
	}
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		StalenessWindow:        10 * time.Second,
		DedupSuppressionWindow: 30 * time.Second,
	}
}

func newNoteReconciler(store *fakeNoteStore, tombstones *fakeTombstones) *reconciler[*models.Note] {
	return &reconciler[*models.Note]{
		cfg:        testSyncConfig(),
		tombstones: tombstones,
		accountID:  "acct-1",
		kind:       enum.NOTE,
		store:      store.asItemStore(),
	}
}

func serverNote(serverID, subject, body string) *models.Note {
	return &models.Note{
		AccountID: "acct-1",
		ServerID:  serverID,
		Subject:   subject,
		Body:      body,
	}
}

func TestReconcilerInsertsNewItems(t *testing.T) {
	store := newFakeNoteStore()
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: true,
		active:    []*models.Note{serverNote("n1", "groceries", "milk"), serverNote("n2", "travel", "pack")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Len(t, store.items, 2)
	assert.False(t, store.items["n1"].LocalModifiedAt.IsZero())
}

func TestReconcilerIsIdempotent(t *testing.T) {
	store := newFakeNoteStore()
	r := newNoteReconciler(store, newFakeTombstones())
	b := batch[*models.Note]{
		fullState: true,
		active:    []*models.Note{serverNote("n1", "groceries", "milk")},
	}

	_, err := r.apply(context.Background(), b, false)
	require.NoError(t, err)

	// A second application of the same batch changes nothing.
	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: true,
		active:    []*models.Note{serverNote("n1", "groceries", "milk")},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, reconcileStats{}, stats)
}

func TestReconcilerFullStateRemovesMissing(t *testing.T) {
	store := newFakeNoteStore()
	gone := serverNote("n-gone", "old", "old body")
	gone.LocalModifiedAt = utils.Now().Add(-time.Hour)
	store.add(gone)
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: true,
		active:    []*models.Note{serverNote("n-kept", "kept", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RemovedLocal)
	// Notes have a trash concept, so removal is a soft delete.
	assert.True(t, store.items["n-gone"].SoftDeleted)
}

func TestReconcilerDeltaDoesNotRemoveMissing(t *testing.T) {
	store := newFakeNoteStore()
	kept := serverNote("n-kept", "kept", "body")
	kept.LocalModifiedAt = utils.Now().Add(-time.Hour)
	store.add(kept)
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{serverNote("n-new", "new", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RemovedLocal)
	assert.False(t, store.items["n-kept"].SoftDeleted)
}

func TestReconcilerDeltaAppliesExplicitDeletions(t *testing.T) {
	store := newFakeNoteStore()
	store.add(serverNote("n1", "doomed", "body"))
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState:  false,
		deletedIDs: []string{"n1", "n-unknown"},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RemovedLocal)
	assert.True(t, store.items["n1"].SoftDeleted)
}

func TestReconcilerDropsTombstonedItems(t *testing.T) {
	store := newFakeNoteStore()
	tombstones := newFakeTombstones()
	require.NoError(t, tombstones.MarkDeleted(context.Background(), "acct-1", enum.NOTE, "n1"))
	r := newNoteReconciler(store, tombstones)

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{serverNote("n1", "zombie", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.DroppedTombstoned)
	assert.Empty(t, store.items)
}

func TestReconcilerStalenessGuardSkipsFreshLocalEdits(t *testing.T) {
	store := newFakeNoteStore()
	edited := serverNote("n1", "mine", "local edit")
	edited.LocalModifiedAt = utils.Now()
	store.add(edited)
	r := newNoteReconciler(store, newFakeTombstones())

	incoming := serverNote("n1", "mine", "server version")

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{incoming},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedStale)
	assert.Equal(t, "local edit", store.items["n1"].Body)

	// With the guard bypassed the server version wins.
	incoming = serverNote("n1", "mine", "server version")
	stats, err = r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{incoming},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, "server version", store.items["n1"].Body)
}

func TestReconcilerStalenessGuardIgnoresOldEdits(t *testing.T) {
	store := newFakeNoteStore()
	edited := serverNote("n1", "mine", "local edit")
	edited.LocalModifiedAt = utils.Now().Add(-time.Hour)
	store.add(edited)
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{serverNote("n1", "mine", "server version")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, "server version", store.items["n1"].Body)
}

func TestReconcilerAdoptsIdentityChange(t *testing.T) {
	store := newFakeNoteStore()
	old := serverNote("n-old", "same content", "body")
	old.LocalModifiedAt = utils.Now().Add(-time.Hour)
	store.add(old)
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{serverNote("n-new", "same content", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.IdentityChanges)
	assert.NotContains(t, store.items, "n-old")
	assert.Contains(t, store.items, "n-new")
}

func TestReconcilerSuppressesRecentlyWipedDuplicate(t *testing.T) {
	store := newFakeNoteStore()
	wiped := serverNote("n-old", "same content", "body")
	wiped.SoftDeleted = true
	wiped.SoftDeletedAt = utils.TimePtr(utils.Now().Add(-5 * time.Second))
	store.add(wiped)
	r := newNoteReconciler(store, newFakeTombstones())

	stats, err := r.apply(context.Background(), batch[*models.Note]{
		fullState: false,
		active:    []*models.Note{serverNote("n-new", "same content", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.DroppedRecentWipe)
	assert.NotContains(t, store.items, "n-new")
	assert.Contains(t, store.items, "n-old")
}

func TestReconcilerConfirmsTombstonesOnFullState(t *testing.T) {
	store := newFakeNoteStore()
	tombstones := newFakeTombstones()
	ctx := context.Background()
	require.NoError(t, tombstones.MarkDeleted(ctx, "acct-1", enum.NOTE, "n-confirmed"))
	require.NoError(t, tombstones.MarkDeleted(ctx, "acct-1", enum.NOTE, "n-lagging"))
	r := newNoteReconciler(store, tombstones)

	// The server still returns n-lagging but no longer knows n-confirmed.
	_, err := r.apply(ctx, batch[*models.Note]{
		fullState: true,
		active:    []*models.Note{serverNote("n-lagging", "zombie", "body")},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, []string{"n-confirmed"}, tombstones.confirmed)
	stillThere, _ := tombstones.IsTombstoned(ctx, "acct-1", enum.NOTE, "n-lagging")
	assert.True(t, stillThere)
}

func TestReconcilerConfirmsTombstonesOnDeltaDeletion(t *testing.T) {
	store := newFakeNoteStore()
	tombstones := newFakeTombstones()
	ctx := context.Background()
	require.NoError(t, tombstones.MarkDeleted(ctx, "acct-1", enum.NOTE, "n1"))
	r := newNoteReconciler(store, tombstones)

	_, err := r.apply(ctx, batch[*models.Note]{
		fullState:  false,
		deletedIDs: []string{"n1"},
	}, false)

	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, tombstones.confirmed)
}
