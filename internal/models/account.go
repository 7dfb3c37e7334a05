package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/utils"
)

// Account represents one configured mailbox account. Credentials are never
// stored here; CredentialsRef points into the platform secret store.
type Account struct {
	ID             string            `gorm:"column:id;type:varchar(50);primaryKey"`
	Email          string            `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	DisplayName    string            `gorm:"column:display_name;type:varchar(255)"`
	Protocol       enum.ProtocolKind `gorm:"column:protocol;type:varchar(20);index;not null"`
	CredentialsRef string            `gorm:"column:credentials_ref;type:varchar(255);not null"`

	ServerHost string `gorm:"column:server_host;type:varchar(255);not null"`
	ServerPort int    `gorm:"column:server_port;not null"`
	ServerTLS  bool   `gorm:"column:server_tls;default:true"`

	// TLSPinSHA256 holds the pinned certificate fingerprint, empty when
	// pinning is not configured for the account.
	TLSPinSHA256 string `gorm:"column:tls_pin_sha256;type:varchar(100)"`

	// PolicyKey is the provisioning token required by the versioned-sync
	// protocol server. Changing it invalidates any cached session.
	PolicyKey string `gorm:"column:policy_key;type:varchar(100)"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}
