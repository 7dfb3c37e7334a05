package models

import (
	"time"
)

// SyncKeyReset is the cursor value that asks the server to start the change
// feed over from scratch.
const SyncKeyReset = "0"

const (
	SyncScopeFolders  = "folders"
	SyncScopeCalendar = "calendar"
	SyncScopeNotes    = "notes"

	syncScopeMessagesPrefix = "messages:"
)

// SyncScopeMessages builds the per-folder message sync scope.
func SyncScopeMessages(folderServerID string) string {
	return syncScopeMessagesPrefix + folderServerID
}

// SyncState persists the sync cursor for one (account, scope) pair. The
// cursor must be written atomically with the batch it represents, so it
// lives in the same database as the entity tables.
type SyncState struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID string    `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_sync_state_scope;index;not null"`
	Scope     string    `gorm:"column:scope;type:varchar(300);uniqueIndex:idx_sync_state_scope;not null"`
	SyncKey   string    `gorm:"column:sync_key;type:varchar(100);not null"`
	LastSync  time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncState) TableName() string {
	return "sync_states"
}
