package services

import (
	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/logger"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/services/account"
	"github.com/glidemail/mailcore/services/events"
	"github.com/glidemail/mailcore/services/mutation"
	"github.com/glidemail/mailcore/services/remote"
	"github.com/glidemail/mailcore/services/session"
	"github.com/glidemail/mailcore/services/sync"
)

type Services struct {
	EventPublisher  interfaces.EventPublisher
	SessionCache    *session.Cache
	SyncService     interfaces.SyncService
	CalendarService interfaces.CalendarMutationService
	NoteService     interfaces.NoteMutationService
	MessageService  interfaces.MessageMutationService
	AccountService  interfaces.AccountService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	// events
	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisherConfig := &events.PublisherConfig{
			MessageTTL:          events.DefaultMessageTTL,
			MaxRetries:          events.DefaultMaxRetries,
			PublishTimeout:      events.DefaultPublishTimeout,
			ReconnectBackoff:    events.DefaultReconnectBackoff,
			MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
		}

		rabbitPublisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, publisherConfig)
		if err != nil {
			return nil, err
		}
		publisher = rabbitPublisher
	} else {
		log.Warn("RABBITMQ_URL not set, change events will not be published")
		publisher = events.NewNoopPublisher()
	}

	factory := remote.NewFactory(remote.NewEnvCredentialStore())
	sessions := session.NewCache(factory, repos.AccountRepository)
	tombstones := sync.NewTracker(repos.TombstoneRepository)
	syncService := sync.NewService(cfg.SyncConfig, repos, sessions, tombstones, publisher)

	services := Services{
		EventPublisher:  publisher,
		SessionCache:    sessions,
		SyncService:     syncService,
		CalendarService: mutation.NewCalendarService(cfg.SyncConfig, repos, sessions, tombstones, syncService, publisher),
		NoteService:     mutation.NewNoteService(cfg.SyncConfig, repos, sessions, tombstones, syncService, publisher),
		MessageService:  mutation.NewMessageService(cfg.SyncConfig, repos, sessions, tombstones, syncService, publisher),
		AccountService:  account.NewService(repos, factory, sessions),
	}

	return &services, nil
}
