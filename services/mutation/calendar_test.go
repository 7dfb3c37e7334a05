package mutation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/services/events"
	"github.com/glidemail/mailcore/services/session"
	syncsvc "github.com/glidemail/mailcore/services/sync"
)

const testAccountID = "acct-1"

// fakeEventRepo is an in-memory CalendarEventRepository keyed by server id.
type fakeEventRepo struct {
	rows map[string]*models.CalendarEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{rows: make(map[string]*models.CalendarEvent)}
}

func (f *fakeEventRepo) GetByServerID(ctx context.Context, accountID, serverID string) (*models.CalendarEvent, error) {
	row, ok := f.rows[serverID]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeEventRepo) ListActive(ctx context.Context, accountID string) ([]*models.CalendarEvent, error) {
	var out []*models.CalendarEvent
	for _, row := range f.rows {
		if !row.SoftDeleted {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) ListAll(ctx context.Context, accountID string) ([]*models.CalendarEvent, error) {
	var out []*models.CalendarEvent
	for _, row := range f.rows {
		copied := *row
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeEventRepo) Upsert(ctx context.Context, event *models.CalendarEvent) error {
	copied := *event
	f.rows[event.ServerID] = &copied
	return nil
}

func (f *fakeEventRepo) SoftDelete(ctx context.Context, accountID, serverID string) error {
	row, ok := f.rows[serverID]
	if !ok {
		return repository.ErrItemNotFound
	}
	now := time.Now().UTC()
	row.SoftDeleted = true
	row.SoftDeletedAt = &now
	return nil
}

func (f *fakeEventRepo) Restore(ctx context.Context, accountID, serverID string) error {
	row, ok := f.rows[serverID]
	if !ok {
		return repository.ErrItemNotFound
	}
	row.SoftDeleted = false
	row.SoftDeletedAt = nil
	return nil
}

func (f *fakeEventRepo) Delete(ctx context.Context, accountID, serverID string) error {
	delete(f.rows, serverID)
	return nil
}

func (f *fakeEventRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	f.rows = make(map[string]*models.CalendarEvent)
	return nil
}

// fakeSyncStates is an in-memory SyncStateRepository.
type fakeSyncStates struct {
	keys map[string]string
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
	return nil
}

func (f *fakeSyncStates) DeleteByAccount(ctx context.Context, accountID string) error {
	f.keys = make(map[string]string)
	return nil
}

type mutationTombstones struct {
	entries map[string]bool
	marked  []string
}

func newMutationTombstones() *mutationTombstones {
	return &mutationTombstones{entries: make(map[string]bool)}
}

func (f *mutationTombstones) key(kind enum.EntityKind, serverID string) string {
	return kind.String() + ":" + serverID
}

func (f *mutationTombstones) MarkDeleted(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	f.entries[f.key(kind, serverID)] = true
	f.marked = append(f.marked, serverID)
	return nil
}

func (f *mutationTombstones) IsTombstoned(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error) {
	return f.entries[f.key(kind, serverID)], nil
}

func (f *mutationTombstones) Confirm(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	delete(f.entries, f.key(kind, serverID))
	return nil
}

func (f *mutationTombstones) ConfirmAgainstServerSet(ctx context.Context, accountID string, kind enum.EntityKind, returnedIDs []string) error {
	returned := make(map[string]bool, len(returnedIDs))
	for _, id := range returnedIDs {
		returned[id] = true
	}
	for key := range f.entries {
		serverID := key[len(kind.String())+1:]
		if !returned[serverID] {
			delete(f.entries, key)
		}
	}
	return nil
}

// scriptedSession simulates the server side of the calendar flows. The
// embedded interface panics on anything a test did not mean to exercise.
type scriptedSession struct {
	interfaces.RemoteSession

	events  map[string]interfaces.RemoteEvent
	nextID  int
	syncKey int

	// ghosts are identifiers the change feed keeps reporting after the
	// server processed their deletion, simulating replication lag.
	ghosts map[string]interfaces.RemoteEvent

	createCalls int
	createErrs  []error
	deleteErrs  map[string]error
	restoreIDs  map[string]string
	purged      []string
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{
		events:     make(map[string]interfaces.RemoteEvent),
		ghosts:     make(map[string]interfaces.RemoteEvent),
		deleteErrs: make(map[string]error),
		restoreIDs: make(map[string]string),
	}
}

func (s *scriptedSession) addServerEvent(serverID string, params interfaces.EventParams) {
	s.events[serverID] = interfaces.RemoteEvent{
		ServerID:  serverID,
		Subject:   params.Subject,
		Location:  params.Location,
		Body:      params.Body,
		StartsAt:  params.StartsAt,
		EndsAt:    params.EndsAt,
		AllDay:    params.AllDay,
		Attendees: params.Attendees,
	}
}

func (s *scriptedSession) CalendarSync(ctx context.Context, syncKey string) (*interfaces.CalendarSyncResult, error) {
	s.syncKey++
	result := &interfaces.CalendarSyncResult{
		SyncKey:   strconv.Itoa(s.syncKey),
		FullState: true,
	}
	for _, ev := range s.events {
		result.Events = append(result.Events, ev)
	}
	for id, ev := range s.ghosts {
		if _, live := s.events[id]; !live {
			result.Events = append(result.Events, ev)
		}
	}
	return result, nil
}

func (s *scriptedSession) CreateEvent(ctx context.Context, params interfaces.EventParams) (string, error) {
	s.createCalls++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	s.nextID++
	serverID := "ev-" + strconv.Itoa(s.nextID)
	s.addServerEvent(serverID, params)
	return serverID, nil
}

func (s *scriptedSession) DeleteEvent(ctx context.Context, serverID string) error {
	if err, ok := s.deleteErrs[serverID]; ok {
		return err
	}
	if _, ok := s.events[serverID]; !ok {
		return interfaces.NewRemoteError(interfaces.ErrorNotFound, "item not found: Status=6")
	}
	delete(s.events, serverID)
	return nil
}

func (s *scriptedSession) RestoreEvent(ctx context.Context, serverID string) (string, error) {
	newID, ok := s.restoreIDs[serverID]
	if !ok {
		newID = serverID
	}
	if ev, exists := s.events[serverID]; exists && newID != serverID {
		delete(s.events, serverID)
		ev.ServerID = newID
		s.events[newID] = ev
	}
	return newID, nil
}

func (s *scriptedSession) PurgeEvent(ctx context.Context, serverID string) error {
	s.purged = append(s.purged, serverID)
	delete(s.events, serverID)
	return nil
}

func (s *scriptedSession) Close() error {
	return nil
}

type scriptedFactory struct {
	session *scriptedSession
}

func (f *scriptedFactory) NewSession(ctx context.Context, account *models.Account) (interfaces.RemoteSession, error) {
	return f.session, nil
}

type fixedAccounts struct {
	interfaces.AccountRepository
}

func (fixedAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return &models.Account{ID: id, Email: "user@example.com", Protocol: enum.ProtocolEAS}, nil
}

type calendarFixture struct {
	service    *CalendarService
	syncer     *syncsvc.Service
	eventRepo  *fakeEventRepo
	tombstones *mutationTombstones
	session    *scriptedSession
}

func newCalendarFixture() *calendarFixture {
	cfg := &config.SyncConfig{
		StalenessWindow:        10 * time.Second,
		DedupSuppressionWindow: 30 * time.Second,
	}
	eventRepo := newFakeEventRepo()
	repos := &repository.Repositories{
		CalendarEventRepository: eventRepo,
		SyncStateRepository:     newFakeSyncStates(),
	}
	sess := newScriptedSession()
	sessions := session.NewCache(&scriptedFactory{session: sess}, fixedAccounts{})
	tombstones := newMutationTombstones()
	publisher := events.NewNoopPublisher()
	syncer := syncsvc.NewService(cfg, repos, sessions, tombstones, publisher)

	return &calendarFixture{
		service:    NewCalendarService(cfg, repos, sessions, tombstones, syncer, publisher),
		syncer:     syncer,
		eventRepo:  eventRepo,
		tombstones: tombstones,
		session:    sess,
	}
}

func standupParams() interfaces.EventParams {
	return interfaces.EventParams{
		Subject:  "Standup",
		Location: "Room 4",
		StartsAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
	}
}

func TestCreateEventSyncsServerRow(t *testing.T) {
	f := newCalendarFixture()

	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())

	require.NoError(t, err)
	assert.Equal(t, "ev-1", created.ServerID)
	assert.Equal(t, "Standup", created.Subject)
	assert.Equal(t, 1, f.session.createCalls)
	// The post-mutation sync pulled the server row into the local store.
	assert.Contains(t, f.eventRepo.rows, "ev-1")
}

func TestCreateEventSuppressesDuplicateSubmit(t *testing.T) {
	f := newCalendarFixture()

	first, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)

	second, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)

	assert.Equal(t, first.ServerID, second.ServerID)
	// The duplicate never reached the server.
	assert.Equal(t, 1, f.session.createCalls)
	assert.Len(t, f.session.events, 1)
}

func TestCreateEventRetriesTransientFailure(t *testing.T) {
	f := newCalendarFixture()
	f.session.createErrs = []error{interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")}

	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())

	require.NoError(t, err)
	assert.Equal(t, "ev-1", created.ServerID)
	assert.Equal(t, 2, f.session.createCalls)
}

func TestCreateEventDoesNotRetryFatalFailure(t *testing.T) {
	f := newCalendarFixture()
	f.session.createErrs = []error{interfaces.NewRemoteError(interfaces.ErrorFatal, "sync failed: Status=4")}

	_, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())

	require.Error(t, err)
	assert.Equal(t, 1, f.session.createCalls)
	assert.Empty(t, f.session.events)
}

func TestDeleteEventTombstonesAndSoftDeletes(t *testing.T) {
	f := newCalendarFixture()
	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)

	err = f.service.DeleteEvent(context.Background(), testAccountID, created.ServerID)

	require.NoError(t, err)
	assert.Empty(t, f.session.events)
	assert.True(t, f.eventRepo.rows[created.ServerID].SoftDeleted)
	assert.Contains(t, f.tombstones.marked, created.ServerID)
	// The follow-up sync no longer saw the identifier, confirming the
	// tombstone.
	tombstoned, _ := f.tombstones.IsTombstoned(context.Background(), testAccountID, enum.EVENT, created.ServerID)
	assert.False(t, tombstoned)
}

func TestDeleteEventToleratesServerNotFound(t *testing.T) {
	f := newCalendarFixture()
	row := &models.CalendarEvent{AccountID: testAccountID, ServerID: "ev-ghost", Subject: "Old"}
	require.NoError(t, f.eventRepo.Upsert(context.Background(), row))

	err := f.service.DeleteEvent(context.Background(), testAccountID, "ev-ghost")

	require.NoError(t, err)
	assert.Contains(t, f.tombstones.marked, "ev-ghost")
}

func TestDeleteEventTargetsCurrentIdentifier(t *testing.T) {
	f := newCalendarFixture()
	params := standupParams()

	// The server reissued the identity since the last sync: the local row
	// still carries the superseded identifier.
	stale := eventFromParams(testAccountID, params)
	stale.ServerID = "ev-old"
	require.NoError(t, f.eventRepo.Upsert(context.Background(), stale))
	f.session.addServerEvent("ev-new", params)

	err := f.service.DeleteEvent(context.Background(), testAccountID, "ev-old")

	require.NoError(t, err)
	// The pre-delete reconcile adopted ev-new, and the delete targeted it.
	assert.Empty(t, f.session.events)
	assert.Contains(t, f.tombstones.marked, "ev-new")
	assert.NotContains(t, f.tombstones.marked, "ev-old")
	assert.NotContains(t, f.eventRepo.rows, "ev-old")
	assert.True(t, f.eventRepo.rows["ev-new"].SoftDeleted)
}

func TestRestoreEventFollowsIdentityChange(t *testing.T) {
	f := newCalendarFixture()
	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteEvent(context.Background(), testAccountID, created.ServerID))

	// The server implements restore as create-new-plus-purge-old.
	f.session.addServerEvent(created.ServerID, standupParams())
	f.session.restoreIDs[created.ServerID] = "ev-reborn"

	restored, err := f.service.RestoreEvent(context.Background(), testAccountID, created.ServerID)

	require.NoError(t, err)
	assert.Equal(t, "ev-reborn", restored.ServerID)
	assert.False(t, restored.SoftDeleted)
	assert.NotContains(t, f.eventRepo.rows, created.ServerID)
	assert.Contains(t, f.session.purged, created.ServerID)
}

func TestRestoreEventKeepsIdentityWhenUnchanged(t *testing.T) {
	f := newCalendarFixture()
	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteEvent(context.Background(), testAccountID, created.ServerID))

	f.session.addServerEvent(created.ServerID, standupParams())

	restored, err := f.service.RestoreEvent(context.Background(), testAccountID, created.ServerID)

	require.NoError(t, err)
	assert.Equal(t, created.ServerID, restored.ServerID)
	assert.False(t, restored.SoftDeleted)
	assert.Empty(t, f.session.purged)
}

func TestRestoreEventSurvivesLaggingDeleteFeed(t *testing.T) {
	f := newCalendarFixture()
	created, err := f.service.CreateEvent(context.Background(), testAccountID, standupParams())
	require.NoError(t, err)

	// The change feed lags behind the delete and keeps listing ev-1.
	f.session.ghosts[created.ServerID] = f.session.events[created.ServerID]

	require.NoError(t, f.service.DeleteEvent(context.Background(), testAccountID, created.ServerID))

	// The feed still contains the identifier, so the tombstone may not be
	// confirmed and the suppressed row stays in local trash.
	tombstoned, _ := f.tombstones.IsTombstoned(context.Background(), testAccountID, enum.EVENT, created.ServerID)
	assert.True(t, tombstoned)
	assert.True(t, f.eventRepo.rows[created.ServerID].SoftDeleted)

	// Restore mints a new identity while the feed is still behind.
	f.session.addServerEvent(created.ServerID, standupParams())
	f.session.restoreIDs[created.ServerID] = "ev-2"

	restored, err := f.service.RestoreEvent(context.Background(), testAccountID, created.ServerID)

	require.NoError(t, err)
	assert.Equal(t, "ev-2", restored.ServerID)
	assert.False(t, restored.SoftDeleted)
	require.Len(t, f.eventRepo.rows, 1)
	assert.NotContains(t, f.eventRepo.rows, created.ServerID)

	// The lagging feed could not resurrect the old identity: its tombstone
	// outlives the restore until the server stops listing it.
	tombstoned, _ = f.tombstones.IsTombstoned(context.Background(), testAccountID, enum.EVENT, created.ServerID)
	assert.True(t, tombstoned)

	// Feed catches up; the next sync confirms the deletion.
	delete(f.session.ghosts, created.ServerID)
	require.NoError(t, f.syncer.SyncCalendar(context.Background(), testAccountID))

	tombstoned, _ = f.tombstones.IsTombstoned(context.Background(), testAccountID, enum.EVENT, created.ServerID)
	assert.False(t, tombstoned)
	require.Len(t, f.eventRepo.rows, 1)
	assert.False(t, f.eventRepo.rows["ev-2"].SoftDeleted)
}

func TestDeleteEventsReportsPartialFailure(t *testing.T) {
	f := newCalendarFixture()

	params := standupParams()
	var ids []string
	for i := 0; i < 3; i++ {
		params.Subject = "Meeting " + strconv.Itoa(i)
		created, err := f.service.CreateEvent(context.Background(), testAccountID, params)
		require.NoError(t, err)
		ids = append(ids, created.ServerID)
	}
	f.session.deleteErrs[ids[1]] = interfaces.NewRemoteError(interfaces.ErrorFatal, "sync failed: Status=4")

	result, err := f.service.DeleteEvents(context.Background(), testAccountID, ids)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "2 succeeded, 1 failed", result.String())
	// The failed item survived on the server.
	assert.Contains(t, f.session.events, ids[1])
}

func TestDeleteEventsEmptyBatch(t *testing.T) {
	f := newCalendarFixture()

	result, err := f.service.DeleteEvents(context.Background(), testAccountID, nil)

	require.NoError(t, err)
	assert.Equal(t, interfaces.BatchResult{}, result)
	assert.Equal(t, 0, f.session.syncKey)
}
