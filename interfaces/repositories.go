package interfaces

import (
	"context"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (string, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	SetPolicyKey(ctx context.Context, id, policyKey string) error
	Delete(ctx context.Context, id string) error
}

type FolderRepository interface {
	GetByServerID(ctx context.Context, accountID, serverID string) (*models.Folder, error)
	GetByType(ctx context.Context, accountID string, folderType enum.FolderType) (*models.Folder, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	// Upsert inserts or replaces a folder row without disturbing messages
	// that reference it by server identifier.
	Upsert(ctx context.Context, folder *models.Folder) error
	SaveSyncKey(ctx context.Context, accountID, serverID, syncKey string) error
	UpdateCounts(ctx context.Context, accountID, serverID string, unread, total int) error
	Delete(ctx context.Context, accountID, serverID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type MessageRepository interface {
	GetByServerID(ctx context.Context, accountID, serverID string) (*models.Message, error)
	ListByFolder(ctx context.Context, accountID, folderServerID string) ([]*models.Message, error)
	Upsert(ctx context.Context, message *models.Message) error
	Delete(ctx context.Context, accountID, serverID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
	CountByFolder(ctx context.Context, accountID, folderServerID string) (unread int, total int, err error)
}

type CalendarEventRepository interface {
	GetByServerID(ctx context.Context, accountID, serverID string) (*models.CalendarEvent, error)
	ListActive(ctx context.Context, accountID string) ([]*models.CalendarEvent, error)
	ListAll(ctx context.Context, accountID string) ([]*models.CalendarEvent, error)
	Upsert(ctx context.Context, event *models.CalendarEvent) error
	SoftDelete(ctx context.Context, accountID, serverID string) error
	Restore(ctx context.Context, accountID, serverID string) error
	Delete(ctx context.Context, accountID, serverID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type NoteRepository interface {
	GetByServerID(ctx context.Context, accountID, serverID string) (*models.Note, error)
	ListActive(ctx context.Context, accountID string) ([]*models.Note, error)
	ListAll(ctx context.Context, accountID string) ([]*models.Note, error)
	Upsert(ctx context.Context, note *models.Note) error
	SoftDelete(ctx context.Context, accountID, serverID string) error
	Restore(ctx context.Context, accountID, serverID string) error
	Delete(ctx context.Context, accountID, serverID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type SyncStateRepository interface {
	// Get returns the stored sync key for the scope, or the reset value when
	// no state exists yet.
	Get(ctx context.Context, accountID, scope string) (string, error)
	Save(ctx context.Context, accountID, scope, syncKey string) error
	Reset(ctx context.Context, accountID, scope string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type TombstoneRepository interface {
	Add(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error
	Exists(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error)
	ListByKind(ctx context.Context, accountID string, kind enum.EntityKind) ([]*models.Tombstone, error)
	Remove(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}
