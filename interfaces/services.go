package interfaces

import (
	"context"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
)

// TombstoneTracker suppresses resurrection of items the user deleted while
// the server still reports them. Entries are removed only by explicit server
// confirmation, never by elapsed time.
type TombstoneTracker interface {
	MarkDeleted(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error
	IsTombstoned(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error)
	// Confirm drops one tombstone after the server explicitly acknowledged
	// the deletion.
	Confirm(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error
	// ConfirmAgainstServerSet removes every tombstone of the kind whose
	// identifier is absent from returnedIDs, the union of the server's
	// active and soft-deleted sets.
	ConfirmAgainstServerSet(ctx context.Context, accountID string, kind enum.EntityKind, returnedIDs []string) error
}

type Credentials struct {
	Username string
	Password string
}

// CredentialStore resolves an account's credential reference into usable
// credentials. The database never holds secrets, only references.
type CredentialStore interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// SessionFactory opens an authenticated remote session for an account,
// choosing the protocol client by the account's protocol kind.
type SessionFactory interface {
	NewSession(ctx context.Context, account *models.Account) (RemoteSession, error)
}

type SyncService interface {
	SyncFolders(ctx context.Context, accountID string) error
	SyncMessages(ctx context.Context, accountID, folderServerID string) error
	SyncCalendar(ctx context.Context, accountID string) error
	SyncCalendarBypassingGuard(ctx context.Context, accountID string) error
	SyncNotes(ctx context.Context, accountID string, bypassStalenessGuard bool) error
	SyncAll(ctx context.Context, accountID string) error
}

// BatchResult reports partial failure of a grouped operation instead of
// aborting the whole group.
type BatchResult struct {
	Succeeded int
	Failed    int
}

func (r BatchResult) String() string {
	return formatBatchResult(r.Succeeded, r.Failed)
}

type CalendarMutationService interface {
	CreateEvent(ctx context.Context, accountID string, params EventParams) (*models.CalendarEvent, error)
	UpdateEvent(ctx context.Context, accountID, serverID string, params EventParams) (*models.CalendarEvent, error)
	DeleteEvent(ctx context.Context, accountID, serverID string) error
	RestoreEvent(ctx context.Context, accountID, serverID string) (*models.CalendarEvent, error)
	DeleteEvents(ctx context.Context, accountID string, serverIDs []string) (BatchResult, error)
}

type NoteMutationService interface {
	CreateNote(ctx context.Context, accountID string, params NoteParams) (*models.Note, error)
	UpdateNote(ctx context.Context, accountID, serverID string, params NoteParams) (*models.Note, error)
	DeleteNote(ctx context.Context, accountID, serverID string) error
	RestoreNote(ctx context.Context, accountID, serverID string) (*models.Note, error)
	DeleteNotes(ctx context.Context, accountID string, serverIDs []string) (BatchResult, error)
}

type MessageMutationService interface {
	DeleteMessages(ctx context.Context, accountID, folderServerID string, serverIDs []string) (BatchResult, error)
	RestoreMessages(ctx context.Context, accountID string, serverIDs []string) (BatchResult, error)
	PurgeMessages(ctx context.Context, accountID string, serverIDs []string) (BatchResult, error)
}

type AccountService interface {
	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateCredentials(ctx context.Context, accountID, credentialsRef, tlsPin string) error
	DeleteAccount(ctx context.Context, accountID string) error
}

type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, accountID, scope string)
	PublishEntityChanged(ctx context.Context, accountID string, kind enum.EntityKind, serverIDs []string)
	Close() error
}
