package models

import (
	"strconv"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/glidemail/mailcore/internal/utils"
)

// CalendarEvent is a synchronized calendar entry. Events have a trash
// concept: deletion from the server soft-deletes the local row.
type CalendarEvent struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_event_account_server;index;not null"`
	ServerID  string `gorm:"column:server_id;type:varchar(255);uniqueIndex:idx_event_account_server;not null"`

	Subject   string         `gorm:"column:subject;type:varchar(1000)"`
	Location  string         `gorm:"column:location;type:varchar(500)"`
	Body      string         `gorm:"column:body;type:text"`
	StartsAt  time.Time      `gorm:"column:starts_at;type:timestamp;index;not null"`
	EndsAt    time.Time      `gorm:"column:ends_at;type:timestamp;not null"`
	AllDay    bool           `gorm:"column:all_day;default:false"`
	Attendees pq.StringArray `gorm:"column:attendees;type:text[]"`

	SoftDeleted   bool       `gorm:"column:soft_deleted;index;default:false"`
	SoftDeletedAt *time.Time `gorm:"column:soft_deleted_at;type:timestamp"`

	LocalModifiedAt time.Time `gorm:"column:local_modified_at;type:timestamp;index"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (CalendarEvent) TableName() string {
	return "calendar_events"
}

func (e *CalendarEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("evt", 24)
	}
	e.CreatedAt = utils.Now()
	return nil
}

func (e *CalendarEvent) GetServerID() string {
	return e.ServerID
}

func (e *CalendarEvent) GetLocalModifiedAt() time.Time {
	return e.LocalModifiedAt
}

func (e *CalendarEvent) SetLocalModifiedAt(t time.Time) {
	e.LocalModifiedAt = t
}

func (e *CalendarEvent) GetSoftDeleted() bool {
	return e.SoftDeleted
}

func (e *CalendarEvent) GetSoftDeletedAt() *time.Time {
	return e.SoftDeletedAt
}

// Equals reports field-level equality against another event, ignoring local
// bookkeeping columns.
func (e *CalendarEvent) Equals(other *CalendarEvent) bool {
	if other == nil {
		return false
	}
	return e.Subject == other.Subject &&
		e.Location == other.Location &&
		e.Body == other.Body &&
		e.StartsAt.Equal(other.StartsAt) &&
		e.EndsAt.Equal(other.EndsAt) &&
		e.AllDay == other.AllDay &&
		e.SoftDeleted == other.SoftDeleted &&
		equalStrings(e.Attendees, other.Attendees)
}

// Fingerprint identifies the event by subject and time window, matching how
// the duplicate search works when a server reissues the identifier.
func (e *CalendarEvent) Fingerprint() string {
	return utils.HashFields(
		utils.NormalizeSubject(e.Subject),
		strconv.FormatInt(e.StartsAt.Unix(), 10),
		strconv.FormatInt(e.EndsAt.Unix(), 10),
		e.Location,
	)
}
