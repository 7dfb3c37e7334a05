package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
)

type Repositories struct {
	AccountRepository       interfaces.AccountRepository
	FolderRepository        interfaces.FolderRepository
	MessageRepository       interfaces.MessageRepository
	CalendarEventRepository interfaces.CalendarEventRepository
	NoteRepository          interfaces.NoteRepository
	SyncStateRepository     interfaces.SyncStateRepository
	TombstoneRepository     interfaces.TombstoneRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:       NewAccountRepository(db),
		FolderRepository:        NewFolderRepository(db),
		MessageRepository:       NewMessageRepository(db),
		CalendarEventRepository: NewCalendarEventRepository(db),
		NoteRepository:          NewNoteRepository(db),
		SyncStateRepository:     NewSyncStateRepository(db),
		TombstoneRepository:     NewTombstoneRepository(db),
	}
}

type MigrateConfig struct {
	MaxConn         int
	MaxIdleConn     int
	ConnMaxLifetime int
}

func MigrateDB(cfg *MigrateConfig, gormDB *gorm.DB) error {
	db, err := gormDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	// The tombstones table is migrated separately from the entity tables so
	// a destructive entity migration cannot drop suppression state.
	err = gormDB.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.Message{},
		&models.CalendarEvent{},
		&models.Note{},
		&models.SyncState{},
	)
	if err != nil {
		return err
	}

	err = gormDB.AutoMigrate(&models.Tombstone{})
	if err != nil {
		return err
	}

	db.SetMaxIdleConns(cfg.MaxIdleConn)
	db.SetMaxOpenConns(cfg.MaxConn)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	return nil
}
