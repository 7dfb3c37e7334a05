package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// SyncNotesWithSession synchronizes notes over an already held session.
func (s *Service) SyncNotesWithSession(ctx context.Context, accountID string, sess interfaces.RemoteSession, bypassStalenessGuard bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncNotes")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("bypass_staleness", bypassStalenessGuard)

	cursor := stateCursor(s.repos.SyncStateRepository, accountID, models.SyncScopeNotes)
	rec := s.noteReconciler(accountID)

	attempt := func(ctx context.Context, syncKey string) (string, error) {
		result, err := sess.NoteSync(ctx, syncKey)
		if err != nil {
			return "", err
		}

		var active, trashed []*models.Note
		for _, rn := range result.Notes {
			note := &models.Note{
				AccountID: accountID,
				ServerID:  rn.ServerID,
				Subject:   rn.Subject,
				Body:      rn.Body,
			}
			if rn.SoftDeleted {
				trashed = append(trashed, note)
			} else {
				active = append(active, note)
			}
		}

		b := batch[*models.Note]{
			fullState:   result.FullState || syncKey == models.SyncKeyReset,
			active:      active,
			softDeleted: trashed,
			deletedIDs:  result.DeletedIDs,
		}
		if _, err := rec.apply(ctx, b, bypassStalenessGuard); err != nil {
			return "", err
		}
		return result.SyncKey, nil
	}

	if err := cursor.run(ctx, attempt, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.publisher.PublishSyncCompleted(ctx, accountID, models.SyncScopeNotes)
	return nil
}

func (s *Service) noteReconciler(accountID string) *reconciler[*models.Note] {
	return &reconciler[*models.Note]{
		cfg:        s.cfg,
		tombstones: s.tombstones,
		accountID:  accountID,
		kind:       enum.NOTE,
		store: itemStore[*models.Note]{
			list: func(ctx context.Context) ([]*models.Note, error) {
				return s.repos.NoteRepository.ListAll(ctx, accountID)
			},
			upsert: func(ctx context.Context, note *models.Note) error {
				return s.repos.NoteRepository.Upsert(ctx, note)
			},
			remove: func(ctx context.Context, serverID string) error {
				return s.repos.NoteRepository.Delete(ctx, accountID, serverID)
			},
			softDelete: func(ctx context.Context, serverID string) error {
				return s.repos.NoteRepository.SoftDelete(ctx, accountID, serverID)
			},
		},
	}
}
