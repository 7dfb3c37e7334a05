package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/utils"
)

// Folder is a server-side mail folder mirrored locally. Identity is the
// (account, server identifier) pair; the row ID is only a local key.
type Folder struct {
	ID        string          `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string          `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_folder_account_server;index;not null"`
	ServerID  string          `gorm:"column:server_id;type:varchar(255);uniqueIndex:idx_folder_account_server;not null"`
	ParentID  string          `gorm:"column:parent_id;type:varchar(255)"`
	Name      string          `gorm:"column:name;type:varchar(255);not null"`
	Type      enum.FolderType `gorm:"column:type;type:varchar(20);index;not null"`

	// SyncKey is the per-folder message cursor, reset value "0".
	SyncKey string `gorm:"column:sync_key;type:varchar(100);default:'0'"`

	UnreadCount int `gorm:"column:unread_count;default:0"`
	TotalCount  int `gorm:"column:total_count;default:0"`

	LocalModifiedAt time.Time `gorm:"column:local_modified_at;type:timestamp"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Folder) TableName() string {
	return "folders"
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = utils.GenerateNanoIDWithPrefix("fldr", 16)
	}
	f.CreatedAt = utils.Now()
	return nil
}

func (f *Folder) GetServerID() string {
	return f.ServerID
}

func (f *Folder) GetLocalModifiedAt() time.Time {
	return f.LocalModifiedAt
}

func (f *Folder) SetLocalModifiedAt(t time.Time) {
	f.LocalModifiedAt = t
}

func (f *Folder) GetSoftDeleted() bool {
	return false
}

func (f *Folder) GetSoftDeletedAt() *time.Time {
	return nil
}

func (f *Folder) Fingerprint() string {
	return utils.HashFields(f.Name, f.ParentID, f.Type.String())
}

// Equals reports field-level equality against another folder, ignoring
// local bookkeeping columns and the sync cursor.
func (f *Folder) Equals(other *Folder) bool {
	if other == nil {
		return false
	}
	return f.Name == other.Name &&
		f.ParentID == other.ParentID &&
		f.Type == other.Type
}
