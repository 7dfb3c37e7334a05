package sync

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/services/session"
)

// Service synchronizes local entity state with the remote server. Every
// public method acquires the account's session lease for the duration of the
// operation; the *WithSession variants exist for callers that already hold
// one (the mutation services) and must not re-acquire.
type Service struct {
	cfg        *config.SyncConfig
	repos      *repository.Repositories
	sessions   *session.Cache
	tombstones interfaces.TombstoneTracker
	publisher  interfaces.EventPublisher
}

func NewService(cfg *config.SyncConfig, repos *repository.Repositories, sessions *session.Cache, tombstones interfaces.TombstoneTracker, publisher interfaces.EventPublisher) *Service {
	return &Service{
		cfg:        cfg,
		repos:      repos,
		sessions:   sessions,
		tombstones: tombstones,
		publisher:  publisher,
	}
}

func (s *Service) withLease(ctx context.Context, accountID string, fn func(ctx context.Context, sess interfaces.RemoteSession) error) error {
	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		return errors.Wrap(err, "failed to acquire session")
	}

	if err := fn(ctx, lease.Session()); err != nil {
		if kind, ok := interfaces.RemoteErrorKind(err); ok && (kind == interfaces.ErrorTransient || kind == interfaces.ErrorAuth) {
			lease.Discard()
		} else {
			lease.Release()
		}
		return err
	}
	lease.Release()
	return nil
}

// SyncAll runs a complete sync pass for the account: folders first so the
// folder set is current, then messages for each system folder, then calendar
// and notes. Scope failures are collected, not short-circuited; one broken
// scope must not starve the others.
func (s *Service) SyncAll(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		var failed []string

		if err := s.SyncFoldersWithSession(ctx, accountID, sess); err != nil {
			// Without a current folder set the per-folder scopes are moot.
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "folder sync failed")
		}

		folders, err := s.repos.FolderRepository.ListByAccount(ctx, accountID)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		for _, folder := range folders {
			if !folder.Type.IsSynced() {
				continue
			}
			if err := s.SyncMessagesWithSession(ctx, accountID, folder.ServerID, sess); err != nil {
				log.Printf("[%s] Message sync failed for folder %s: %v", accountID, folder.ServerID, err)
				failed = append(failed, "messages:"+folder.ServerID)
			}
		}

		if err := s.SyncCalendarWithSession(ctx, accountID, sess, false); err != nil {
			log.Printf("[%s] Calendar sync failed: %v", accountID, err)
			failed = append(failed, "calendar")
		}
		if err := s.SyncNotesWithSession(ctx, accountID, sess, false); err != nil {
			log.Printf("[%s] Note sync failed: %v", accountID, err)
			failed = append(failed, "notes")
		}

		if len(failed) > 0 {
			err := errors.Errorf("sync incomplete for scopes: %v", failed)
			tracing.TraceErr(span, err)
			return err
		}

		s.publisher.PublishSyncCompleted(ctx, accountID, "all")
		return nil
	})
}

func (s *Service) SyncFolders(ctx context.Context, accountID string) error {
	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		return s.SyncFoldersWithSession(ctx, accountID, sess)
	})
}

func (s *Service) SyncMessages(ctx context.Context, accountID, folderServerID string) error {
	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		return s.SyncMessagesWithSession(ctx, accountID, folderServerID, sess)
	})
}

func (s *Service) SyncCalendar(ctx context.Context, accountID string) error {
	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		return s.SyncCalendarWithSession(ctx, accountID, sess, false)
	})
}

// SyncCalendarBypassingGuard skips the staleness guard. Used right after a
// confirmed server mutation, when the incoming state is known to be newer
// than any local edit.
func (s *Service) SyncCalendarBypassingGuard(ctx context.Context, accountID string) error {
	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		return s.SyncCalendarWithSession(ctx, accountID, sess, true)
	})
}

func (s *Service) SyncNotes(ctx context.Context, accountID string, bypassStalenessGuard bool) error {
	return s.withLease(ctx, accountID, func(ctx context.Context, sess interfaces.RemoteSession) error {
		return s.SyncNotesWithSession(ctx, accountID, sess, bypassStalenessGuard)
	})
}
