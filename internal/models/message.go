package models

import (
	"strconv"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/utils"
)

// Message is a synchronized mail message. Body content is stored opaquely;
// rendering and MIME handling live outside this system.
type Message struct {
	ID             string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID      string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_message_account_server;index;not null"`
	ServerID       string `gorm:"column:server_id;type:varchar(255);uniqueIndex:idx_message_account_server;not null"`
	FolderServerID string `gorm:"column:folder_server_id;type:varchar(255);index;not null"`

	Subject     string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress string         `gorm:"column:from_address;type:varchar(255);index"`
	FromName    string         `gorm:"column:from_name;type:varchar(255)"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses pq.StringArray `gorm:"column:cc_addresses;type:text[]"`

	SentAt  *time.Time `gorm:"column:sent_at;type:timestamp;index"`
	Read    bool       `gorm:"column:read;default:false"`
	Flagged bool       `gorm:"column:flagged;default:false"`

	BodyPreview string `gorm:"column:body_preview;type:text"`
	BodyText    string `gorm:"column:body_text;type:text"`

	LocalModifiedAt time.Time `gorm:"column:local_modified_at;type:timestamp;index"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("msg", 24)
	}
	m.CreatedAt = utils.Now()
	return nil
}

func (m *Message) GetServerID() string {
	return m.ServerID
}

func (m *Message) GetLocalModifiedAt() time.Time {
	return m.LocalModifiedAt
}

func (m *Message) SetLocalModifiedAt(t time.Time) {
	m.LocalModifiedAt = t
}

func (m *Message) GetSoftDeleted() bool {
	return false
}

func (m *Message) GetSoftDeletedAt() *time.Time {
	return nil
}

// Equals reports field-level equality against another message, ignoring
// local bookkeeping columns.
func (m *Message) Equals(other *Message) bool {
	if other == nil {
		return false
	}
	if m.Subject != other.Subject ||
		m.FromAddress != other.FromAddress ||
		m.FromName != other.FromName ||
		m.FolderServerID != other.FolderServerID ||
		m.Read != other.Read ||
		m.Flagged != other.Flagged ||
		m.BodyPreview != other.BodyPreview {
		return false
	}
	return equalTimePtr(m.SentAt, other.SentAt) && equalStrings(m.ToAddresses, other.ToAddresses) && equalStrings(m.CcAddresses, other.CcAddresses)
}

// Fingerprint is the content identity of the message, independent of the
// server identifier. Servers reissue identifiers on move/restore; two rows
// with equal fingerprints are the same message.
func (m *Message) Fingerprint() string {
	sentAt := ""
	if m.SentAt != nil {
		sentAt = strconv.FormatInt(m.SentAt.Unix(), 10)
	}
	return utils.HashFields(utils.NormalizeSubject(m.Subject), m.FromAddress, sentAt, m.FolderServerID)
}
