package sync

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// SyncMessagesWithSession synchronizes one folder's messages over an already
// held session. The cursor is the folder row's sync key; folder unread and
// total counts are recomputed after the reconcile.
func (s *Service) SyncMessagesWithSession(ctx context.Context, accountID, folderServerID string, sess interfaces.RemoteSession) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.server_id", folderServerID)

	cursor := folderCursor(s.repos.FolderRepository, accountID, folderServerID)

	rec := &reconciler[*models.Message]{
		cfg:        s.cfg,
		tombstones: s.tombstones,
		accountID:  accountID,
		kind:       enum.MESSAGE,
		store: itemStore[*models.Message]{
			list: func(ctx context.Context) ([]*models.Message, error) {
				return s.repos.MessageRepository.ListByFolder(ctx, accountID, folderServerID)
			},
			upsert: func(ctx context.Context, message *models.Message) error {
				return s.repos.MessageRepository.Upsert(ctx, message)
			},
			remove: func(ctx context.Context, serverID string) error {
				return s.repos.MessageRepository.Delete(ctx, accountID, serverID)
			},
		},
	}

	attempt := func(ctx context.Context, syncKey string) (string, error) {
		result, err := sess.MessageSync(ctx, folderServerID, syncKey)
		if err != nil {
			return "", err
		}

		messages := make([]*models.Message, 0, len(result.Messages))
		for _, rm := range result.Messages {
			messages = append(messages, &models.Message{
				AccountID:      accountID,
				ServerID:       rm.ServerID,
				FolderServerID: folderServerID,
				Subject:        rm.Subject,
				FromAddress:    rm.FromAddress,
				FromName:       rm.FromName,
				ToAddresses:    rm.ToAddresses,
				CcAddresses:    rm.CcAddresses,
				SentAt:         rm.SentAt,
				Read:           rm.Read,
				Flagged:        rm.Flagged,
				BodyPreview:    rm.BodyPreview,
				BodyText:       rm.BodyText,
			})
		}

		b := batch[*models.Message]{
			fullState:  result.FullState || syncKey == models.SyncKeyReset,
			active:     messages,
			deletedIDs: result.DeletedIDs,
		}
		if _, err := rec.apply(ctx, b, false); err != nil {
			return "", err
		}
		return result.SyncKey, nil
	}

	if err := cursor.run(ctx, attempt, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.refreshFolderCounts(ctx, accountID, folderServerID); err != nil {
		// Stale counts are cosmetic; the sync itself succeeded.
		log.Printf("[%s] Failed to refresh counts for folder %s: %v", accountID, folderServerID, err)
	}

	s.publisher.PublishSyncCompleted(ctx, accountID, models.SyncScopeMessages(folderServerID))
	return nil
}

func (s *Service) refreshFolderCounts(ctx context.Context, accountID, folderServerID string) error {
	unread, total, err := s.repos.MessageRepository.CountByFolder(ctx, accountID, folderServerID)
	if err != nil {
		return err
	}
	return s.repos.FolderRepository.UpdateCounts(ctx, accountID, folderServerID, unread, total)
}
