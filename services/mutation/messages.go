package mutation

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/services/session"
	syncsvc "github.com/glidemail/mailcore/services/sync"
)

// MessageService orchestrates message mutations. Messages only support
// batched delete/restore/purge; per-message edits (read, flag) are local
// state the sync pipeline reports, not a mutation the client originates
// through this service.
type MessageService struct {
	cfg        *config.SyncConfig
	repos      *repository.Repositories
	sessions   *session.Cache
	tombstones interfaces.TombstoneTracker
	syncer     *syncsvc.Service
	publisher  interfaces.EventPublisher
}

func NewMessageService(cfg *config.SyncConfig, repos *repository.Repositories, sessions *session.Cache, tombstones interfaces.TombstoneTracker, syncer *syncsvc.Service, publisher interfaces.EventPublisher) *MessageService {
	return &MessageService{
		cfg:        cfg,
		repos:      repos,
		sessions:   sessions,
		tombstones: tombstones,
		syncer:     syncer,
		publisher:  publisher,
	}
}

// DeleteMessages deletes a batch of messages from one folder under a single
// session lease, then runs one message sync for the folder.
func (s *MessageService) DeleteMessages(ctx context.Context, accountID, folderServerID string, serverIDs []string) (interfaces.BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MessageService.DeleteMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.server_id", folderServerID)
	span.SetTag("batch.size", len(serverIDs))

	result := interfaces.BatchResult{}
	if len(serverIDs) == 0 {
		return result, nil
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}
	defer lease.Release()
	sess := lease.Session()

	var changed []string
	for i, serverID := range serverIDs {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.BatchItemDelay); err != nil {
				return result, err
			}
		}

		err := withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
			return sess.DeleteMessage(ctx, folderServerID, serverID)
		})
		if err != nil && !isNotFound(err) {
			log.Printf("[%s] Batch delete failed for message %s: %v", accountID, serverID, err)
			result.Failed++
			continue
		}

		if err := s.tombstones.MarkDeleted(ctx, accountID, enum.MESSAGE, serverID); err != nil {
			result.Failed++
			continue
		}
		if err := s.repos.MessageRepository.Delete(ctx, accountID, serverID); err != nil {
			result.Failed++
			continue
		}
		changed = append(changed, serverID)
		result.Succeeded++
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return result, err
	}
	if err := s.syncer.SyncMessagesWithSession(ctx, accountID, folderServerID, sess); err != nil {
		log.Printf("[%s] Post-batch message sync failed for folder %s: %v", accountID, folderServerID, err)
	}

	if len(changed) > 0 {
		s.publisher.PublishEntityChanged(ctx, accountID, enum.MESSAGE, changed)
	}
	log.Printf("[%s] Message batch delete: %s", accountID, result.String())
	return result, nil
}

// RestoreMessages moves a batch of messages out of the trash folder. The
// server may reissue identifiers; the follow-up sync adopts them.
func (s *MessageService) RestoreMessages(ctx context.Context, accountID string, serverIDs []string) (interfaces.BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MessageService.RestoreMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("batch.size", len(serverIDs))

	result := interfaces.BatchResult{}
	if len(serverIDs) == 0 {
		return result, nil
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}
	defer lease.Release()
	sess := lease.Session()

	var changed []string
	for i, serverID := range serverIDs {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.BatchItemDelay); err != nil {
				return result, err
			}
		}

		var newServerID string
		err := withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
			var opErr error
			newServerID, opErr = sess.RestoreMessage(ctx, serverID)
			return opErr
		})
		if err != nil {
			log.Printf("[%s] Batch restore failed for message %s: %v", accountID, serverID, err)
			result.Failed++
			continue
		}

		if newServerID != "" && newServerID != serverID {
			// The old identity's tombstone stays for the next sync's
			// confirmation step; clearing it here would let a lagging
			// feed resurrect the old row.
			log.Printf("[%s] Message restore changed identity %s -> %s", accountID, serverID, newServerID)
			changed = append(changed, newServerID)
		} else {
			// Same identity came back. The server acknowledged the message
			// is active again, so the pending-delete suppression must go or
			// the follow-up sync would drop the restored row.
			if err := s.tombstones.Confirm(ctx, accountID, enum.MESSAGE, serverID); err != nil {
				result.Failed++
				continue
			}
			changed = append(changed, serverID)
		}
		result.Succeeded++
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return result, err
	}
	if err := s.syncAffectedFolders(ctx, accountID, sess); err != nil {
		log.Printf("[%s] Post-restore message sync failed: %v", accountID, err)
	}

	if len(changed) > 0 {
		s.publisher.PublishEntityChanged(ctx, accountID, enum.MESSAGE, changed)
	}
	log.Printf("[%s] Message batch restore: %s", accountID, result.String())
	return result, nil
}

// PurgeMessages permanently removes messages server-side. Purged identifiers
// are tombstoned so a lagging change feed cannot resurrect them.
func (s *MessageService) PurgeMessages(ctx context.Context, accountID string, serverIDs []string) (interfaces.BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MessageService.PurgeMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("batch.size", len(serverIDs))

	result := interfaces.BatchResult{}
	if len(serverIDs) == 0 {
		return result, nil
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}
	defer lease.Release()
	sess := lease.Session()

	for i, serverID := range serverIDs {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.BatchItemDelay); err != nil {
				return result, err
			}
		}

		err := withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
			return sess.PurgeMessage(ctx, serverID)
		})
		if err != nil && !isNotFound(err) {
			log.Printf("[%s] Batch purge failed for message %s: %v", accountID, serverID, err)
			result.Failed++
			continue
		}

		if err := s.tombstones.MarkDeleted(ctx, accountID, enum.MESSAGE, serverID); err != nil {
			result.Failed++
			continue
		}
		if err := s.repos.MessageRepository.Delete(ctx, accountID, serverID); err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return result, err
	}
	if err := s.syncAffectedFolders(ctx, accountID, sess); err != nil {
		log.Printf("[%s] Post-purge message sync failed: %v", accountID, err)
	}

	log.Printf("[%s] Message batch purge: %s", accountID, result.String())
	return result, nil
}

// syncAffectedFolders refreshes trash and inbox, the two folders message
// restore and purge flows touch.
func (s *MessageService) syncAffectedFolders(ctx context.Context, accountID string, sess interfaces.RemoteSession) error {
	for _, folderType := range []enum.FolderType{enum.FolderTrash, enum.FolderInbox} {
		folder, err := s.repos.FolderRepository.GetByType(ctx, accountID, folderType)
		if err != nil {
			if err == repository.ErrFolderNotFound {
				continue
			}
			return err
		}
		if err := s.syncer.SyncMessagesWithSession(ctx, accountID, folder.ServerID, sess); err != nil {
			return err
		}
	}
	return nil
}
