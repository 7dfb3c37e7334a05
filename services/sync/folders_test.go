package sync

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/services/events"
)

type fakeFolderRepo struct {
	rows map[string]*models.Folder
}

func newFakeFolderRepo() *fakeFolderRepo {
	return &fakeFolderRepo{rows: make(map[string]*models.Folder)}
}

func (f *fakeFolderRepo) GetByServerID(ctx context.Context, accountID, serverID string) (*models.Folder, error) {
	row, ok := f.rows[serverID]
	if !ok {
		return nil, repository.ErrFolderNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeFolderRepo) GetByType(ctx context.Context, accountID string, folderType enum.FolderType) (*models.Folder, error) {
	for _, row := range f.rows {
		if row.Type == folderType {
			copied := *row
			return &copied, nil
		}
	}
	return nil, repository.ErrFolderNotFound
}

func (f *fakeFolderRepo) ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	var out []*models.Folder
	for _, row := range f.rows {
		copied := *row
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeFolderRepo) Upsert(ctx context.Context, folder *models.Folder) error {
	copied := *folder
	if existing, ok := f.rows[folder.ServerID]; ok {
		copied.SyncKey = existing.SyncKey
		copied.UnreadCount = existing.UnreadCount
		copied.TotalCount = existing.TotalCount
	}
	f.rows[folder.ServerID] = &copied
	return nil
}

func (f *fakeFolderRepo) SaveSyncKey(ctx context.Context, accountID, serverID, syncKey string) error {
	row, ok := f.rows[serverID]
	if !ok {
		return repository.ErrFolderNotFound
	}
	row.SyncKey = syncKey
	return nil
}

func (f *fakeFolderRepo) UpdateCounts(ctx context.Context, accountID, serverID string, unread, total int) error {
	row, ok := f.rows[serverID]
	if !ok {
		return repository.ErrFolderNotFound
	}
	row.UnreadCount = unread
	row.TotalCount = total
	return nil
}

func (f *fakeFolderRepo) Delete(ctx context.Context, accountID, serverID string) error {
	delete(f.rows, serverID)
	return nil
}

func (f *fakeFolderRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	f.rows = make(map[string]*models.Folder)
	return nil
}

type fakeSyncStates struct {
	keys   map[string]string
	resets int
}

func newFakeSyncStates() *fakeSyncStates {
	return &fakeSyncStates{keys: make(map[string]string)}
}

func (f *fakeSyncStates) Get(ctx context.Context, accountID, scope string) (string, error) {
	key, ok := f.keys[scope]
	if !ok {
		return models.SyncKeyReset, nil
	}
	return key, nil
}

func (f *fakeSyncStates) Save(ctx context.Context, accountID, scope, syncKey string) error {
	f.keys[scope] = syncKey
	return nil
}

func (f *fakeSyncStates) Reset(ctx context.Context, accountID, scope string) error {
	f.keys[scope] = models.SyncKeyReset
	f.resets++
	return nil
}

func (f *fakeSyncStates) DeleteByAccount(ctx context.Context, accountID string) error {
	f.keys = make(map[string]string)
	return nil
}

// folderSession serves scripted folder hierarchies, one per sync round.
type folderSession struct {
	interfaces.RemoteSession

	responses []*interfaces.FolderSyncResult
	calls     int
}

func (s *folderSession) FolderSync(ctx context.Context, syncKey string) (*interfaces.FolderSyncResult, error) {
	if s.calls >= len(s.responses) {
		return &interfaces.FolderSyncResult{SyncKey: strconv.Itoa(s.calls + 1), FullState: true}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func systemFolders() []interfaces.RemoteFolder {
	return []interfaces.RemoteFolder{
		{ServerID: "f-inbox", Name: "Inbox", Type: enum.FolderInbox},
		{ServerID: "f-sent", Name: "Sent", Type: enum.FolderSent},
		{ServerID: "f-drafts", Name: "Drafts", Type: enum.FolderDrafts},
		{ServerID: "f-trash", Name: "Trash", Type: enum.FolderTrash},
	}
}

type folderFixture struct {
	service *Service
	folders *fakeFolderRepo
	states  *fakeSyncStates
}

func newFolderFixture() *folderFixture {
	folders := newFakeFolderRepo()
	states := newFakeSyncStates()
	repos := &repository.Repositories{
		FolderRepository:    folders,
		SyncStateRepository: states,
	}
	service := NewService(testSyncConfig(), repos, nil, newFakeTombstones(), events.NewNoopPublisher())
	return &folderFixture{service: service, folders: folders, states: states}
}

func TestFolderSyncPersistsHierarchy(t *testing.T) {
	f := newFolderFixture()
	sess := &folderSession{responses: []*interfaces.FolderSyncResult{
		{SyncKey: "1", FullState: true, Folders: append(systemFolders(), interfaces.RemoteFolder{
			ServerID: "f-archive", ParentID: "f-inbox", Name: "Archive", Type: enum.FolderUser,
		})},
	}}

	err := f.service.SyncFoldersWithSession(context.Background(), "acct-1", sess)

	require.NoError(t, err)
	assert.Len(t, f.folders.rows, 5)
	assert.Equal(t, "f-inbox", f.folders.rows["f-archive"].ParentID)
	assert.Equal(t, "1", f.states.keys[models.SyncScopeFolders])
	assert.Equal(t, 0, f.states.resets)
}

func TestFolderSyncResetsOnTruncatedHierarchy(t *testing.T) {
	f := newFolderFixture()
	// First round drops the trash folder, a protocol anomaly. The retry
	// after reset serves the complete hierarchy.
	truncated := systemFolders()[:3]
	sess := &folderSession{responses: []*interfaces.FolderSyncResult{
		{SyncKey: "1", FullState: true, Folders: truncated},
		{SyncKey: "2", FullState: true, Folders: systemFolders()},
	}}

	err := f.service.SyncFoldersWithSession(context.Background(), "acct-1", sess)

	require.NoError(t, err)
	assert.Equal(t, 1, f.states.resets)
	assert.Equal(t, 2, sess.calls)
	assert.Contains(t, f.folders.rows, "f-trash")
	assert.Equal(t, "2", f.states.keys[models.SyncScopeFolders])
}

func TestFolderSyncAcceptsHierarchyStillTruncatedAfterReset(t *testing.T) {
	f := newFolderFixture()
	truncated := systemFolders()[:3]
	sess := &folderSession{responses: []*interfaces.FolderSyncResult{
		{SyncKey: "1", FullState: true, Folders: truncated},
		{SyncKey: "2", FullState: true, Folders: truncated},
	}}

	err := f.service.SyncFoldersWithSession(context.Background(), "acct-1", sess)

	// One reset-retry, then the truncated state is accepted as served so the
	// account's other scopes keep syncing.
	require.NoError(t, err)
	assert.Equal(t, 1, f.states.resets)
	assert.Equal(t, 2, sess.calls)
	assert.NotContains(t, f.folders.rows, "f-trash")
	assert.Equal(t, "2", f.states.keys[models.SyncScopeFolders])
}

func TestFolderSyncRecoversFromConflict(t *testing.T) {
	f := newFolderFixture()
	f.states.keys[models.SyncScopeFolders] = "41"

	sess := &conflictingFolderSession{ok: &folderSession{responses: []*interfaces.FolderSyncResult{
		{SyncKey: "1", FullState: true, Folders: systemFolders()},
	}}}

	err := f.service.SyncFoldersWithSession(context.Background(), "acct-1", sess)

	require.NoError(t, err)
	assert.Equal(t, 1, f.states.resets)
	assert.Equal(t, "1", f.states.keys[models.SyncScopeFolders])
}

// conflictingFolderSession rejects any non-reset sync key.
type conflictingFolderSession struct {
	interfaces.RemoteSession
	ok *folderSession
}

func (s *conflictingFolderSession) FolderSync(ctx context.Context, syncKey string) (*interfaces.FolderSyncResult, error) {
	if syncKey != models.SyncKeyReset {
		return nil, interfaces.NewRemoteError(interfaces.ErrorConflict, "sync key rejected: Status=3")
	}
	return s.ok.FolderSync(ctx, syncKey)
}
