package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/utils"
)

// Tombstone marks a server identifier as deleted by the user but not yet
// confirmed gone by the server. Entries have no TTL: a lagging server may
// keep returning the identifier for an unbounded time, and expiring the
// entry would reintroduce the resurrection it exists to suppress.
//
// The table is deliberately independent of the entity tables so it survives
// destructive migrations of those tables.
type Tombstone struct {
	ID        string          `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string          `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_tombstone_identity;index;not null"`
	Kind      enum.EntityKind `gorm:"column:kind;type:varchar(20);uniqueIndex:idx_tombstone_identity;not null"`
	ServerID  string          `gorm:"column:server_id;type:varchar(255);uniqueIndex:idx_tombstone_identity;not null"`
	DeletedAt time.Time       `gorm:"column:deleted_at;type:timestamp;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (Tombstone) TableName() string {
	return "tombstones"
}

func (t *Tombstone) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = utils.GenerateNanoIDWithPrefix("tomb", 16)
	}
	t.CreatedAt = utils.Now()
	return nil
}
