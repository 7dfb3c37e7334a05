package sync

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// SyncFoldersWithSession synchronizes the folder hierarchy over an already
// held session. The folder cursor is validated after every successful round:
// a response that dropped a system folder marks the cursor desynchronized
// and triggers the reset-and-retry policy.
func (s *Service) SyncFoldersWithSession(ctx context.Context, accountID string, sess interfaces.RemoteSession) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	cursor := stateCursor(s.repos.SyncStateRepository, accountID, models.SyncScopeFolders)

	rec := &reconciler[*models.Folder]{
		cfg:        s.cfg,
		tombstones: s.tombstones,
		accountID:  accountID,
		kind:       enum.FOLDER,
		store: itemStore[*models.Folder]{
			list: func(ctx context.Context) ([]*models.Folder, error) {
				return s.repos.FolderRepository.ListByAccount(ctx, accountID)
			},
			upsert: func(ctx context.Context, folder *models.Folder) error {
				return s.repos.FolderRepository.Upsert(ctx, folder)
			},
			remove: func(ctx context.Context, serverID string) error {
				return s.repos.FolderRepository.Delete(ctx, accountID, serverID)
			},
		},
	}

	attempt := func(ctx context.Context, syncKey string) (string, error) {
		result, err := sess.FolderSync(ctx, syncKey)
		if err != nil {
			return "", err
		}

		folders := make([]*models.Folder, 0, len(result.Folders))
		for _, rf := range result.Folders {
			folders = append(folders, &models.Folder{
				AccountID: accountID,
				ServerID:  rf.ServerID,
				ParentID:  rf.ParentID,
				Name:      rf.Name,
				Type:      rf.Type,
			})
		}

		b := batch[*models.Folder]{
			fullState:  result.FullState || syncKey == models.SyncKeyReset,
			active:     folders,
			deletedIDs: result.DeletedIDs,
		}
		if _, err := rec.apply(ctx, b, false); err != nil {
			return "", err
		}
		return result.SyncKey, nil
	}

	validate := func(ctx context.Context) error {
		return s.checkSystemFolders(ctx, accountID)
	}

	if err := cursor.run(ctx, attempt, validate); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.publisher.PublishSyncCompleted(ctx, accountID, models.SyncScopeFolders)
	return nil
}

// checkSystemFolders verifies the mailbox still exposes every mandatory
// folder. Servers never delete inbox/sent/drafts/trash; their absence means
// the cursor served a truncated hierarchy.
func (s *Service) checkSystemFolders(ctx context.Context, accountID string) error {
	folders, err := s.repos.FolderRepository.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	present := make(map[enum.FolderType]bool, len(folders))
	for _, folder := range folders {
		present[folder.Type] = true
	}

	for _, required := range enum.SystemFolderTypes {
		if !present[required] {
			log.Printf("[%s] System folder %s missing after folder sync", accountID, required)
			return errors.Errorf("system folder %s missing", required)
		}
	}
	return nil
}
