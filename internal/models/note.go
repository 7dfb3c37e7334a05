package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/utils"
)

// Note is a synchronized note. Like calendar events, notes soft-delete into
// the account's trash rather than disappearing outright.
type Note struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_note_account_server;index;not null"`
	ServerID  string `gorm:"column:server_id;type:varchar(255);uniqueIndex:idx_note_account_server;not null"`

	Subject string `gorm:"column:subject;type:varchar(1000)"`
	Body    string `gorm:"column:body;type:text"`

	SoftDeleted   bool       `gorm:"column:soft_deleted;index;default:false"`
	SoftDeletedAt *time.Time `gorm:"column:soft_deleted_at;type:timestamp"`

	LocalModifiedAt time.Time `gorm:"column:local_modified_at;type:timestamp;index"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Note) TableName() string {
	return "notes"
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = utils.GenerateNanoIDWithPrefix("note", 24)
	}
	n.CreatedAt = utils.Now()
	return nil
}

func (n *Note) GetServerID() string {
	return n.ServerID
}

func (n *Note) GetLocalModifiedAt() time.Time {
	return n.LocalModifiedAt
}

func (n *Note) SetLocalModifiedAt(t time.Time) {
	n.LocalModifiedAt = t
}

func (n *Note) GetSoftDeleted() bool {
	return n.SoftDeleted
}

func (n *Note) GetSoftDeletedAt() *time.Time {
	return n.SoftDeletedAt
}

// Equals reports field-level equality against another note, ignoring local
// bookkeeping columns.
func (n *Note) Equals(other *Note) bool {
	if other == nil {
		return false
	}
	return n.Subject == other.Subject &&
		n.Body == other.Body &&
		n.SoftDeleted == other.SoftDeleted
}

func (n *Note) Fingerprint() string {
	return utils.HashFields(utils.NormalizeSubject(n.Subject), n.Body)
}
