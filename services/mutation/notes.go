package mutation

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/internal/utils"
	"github.com/glidemail/mailcore/services/session"
	syncsvc "github.com/glidemail/mailcore/services/sync"
)

// NoteService orchestrates user-initiated note mutations, mirroring the
// calendar flow: server write first, reconcile after, all under one lease.
type NoteService struct {
	cfg        *config.SyncConfig
	repos      *repository.Repositories
	sessions   *session.Cache
	tombstones interfaces.TombstoneTracker
	syncer     *syncsvc.Service
	publisher  interfaces.EventPublisher
}

func NewNoteService(cfg *config.SyncConfig, repos *repository.Repositories, sessions *session.Cache, tombstones interfaces.TombstoneTracker, syncer *syncsvc.Service, publisher interfaces.EventPublisher) *NoteService {
	return &NoteService{
		cfg:        cfg,
		repos:      repos,
		sessions:   sessions,
		tombstones: tombstones,
		syncer:     syncer,
		publisher:  publisher,
	}
}

func noteFromParams(accountID string, params interfaces.NoteParams) *models.Note {
	return &models.Note{
		AccountID: accountID,
		Subject:   params.Subject,
		Body:      params.Body,
	}
}

func (s *NoteService) CreateNote(ctx context.Context, accountID string, params interfaces.NoteParams) (*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.CreateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	candidate := noteFromParams(accountID, params)

	existing, err := s.findActiveByFingerprint(ctx, accountID, candidate.Fingerprint())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		log.Printf("[%s] Duplicate note create suppressed, returning %s", accountID, existing.ServerID)
		span.SetTag("create.deduplicated", true)
		return existing, nil
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer lease.Release()
	sess := lease.Session()

	var serverID string
	err = withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
		var opErr error
		serverID, opErr = sess.CreateNote(ctx, params)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to create note")
	}

	if utils.IsLocalPlaceholderID(serverID) {
		log.Printf("[%s] Note create returned placeholder id %s", accountID, serverID)
		if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		synced, err := s.findActiveByFingerprint(ctx, accountID, candidate.Fingerprint())
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if synced != nil {
			return synced, nil
		}
		candidate.ServerID = serverID
		candidate.LocalModifiedAt = utils.Now()
		if err := s.repos.NoteRepository.Upsert(ctx, candidate); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{serverID})
		return candidate, nil
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	created, err := s.repos.NoteRepository.GetByServerID(ctx, accountID, serverID)
	if err == nil {
		s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{serverID})
		return created, nil
	}
	if err != repository.ErrItemNotFound {
		tracing.TraceErr(span, err)
		return nil, err
	}

	candidate.ServerID = serverID
	candidate.LocalModifiedAt = utils.Now()
	if err := s.repos.NoteRepository.Upsert(ctx, candidate); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{serverID})
	return candidate, nil
}

func (s *NoteService) UpdateNote(ctx context.Context, accountID, serverID string, params interfaces.NoteParams) (*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.UpdateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	existing, err := s.repos.NoteRepository.GetByServerID(ctx, accountID, serverID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer lease.Release()
	sess := lease.Session()

	var newServerID string
	err = withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
		var opErr error
		newServerID, opErr = sess.UpdateNote(ctx, serverID, params)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to update note")
	}
	if newServerID == "" {
		newServerID = serverID
	}

	updated := noteFromParams(accountID, params)
	updated.ID = existing.ID
	updated.ServerID = newServerID
	updated.LocalModifiedAt = utils.Now()

	if newServerID != serverID {
		log.Printf("[%s] Note update changed identity %s -> %s", accountID, serverID, newServerID)
		if err := s.repos.NoteRepository.Delete(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		updated.ID = ""
	}
	if err := s.repos.NoteRepository.Upsert(ctx, updated); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{newServerID})
	return s.repos.NoteRepository.GetByServerID(ctx, accountID, newServerID)
}

// DeleteNote reconciles first so the delete targets the server's current
// identifier, then deletes on the server, tombstones the identifier and
// soft-deletes the local row.
func (s *NoteService) DeleteNote(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.DeleteNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer lease.Release()
	sess := lease.Session()

	existing, err := s.repos.NoteRepository.GetByServerID(ctx, accountID, serverID)
	if err != nil && err != repository.ErrItemNotFound {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	serverID, err = s.currentNoteID(ctx, accountID, serverID, existing)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.deleteNoteWithSession(ctx, accountID, serverID, sess); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *NoteService) deleteNoteWithSession(ctx context.Context, accountID, serverID string, sess interfaces.RemoteSession) error {
	err := withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
		return sess.DeleteNote(ctx, serverID)
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrap(err, "failed to delete note")
	}
	if isNotFound(err) {
		log.Printf("[%s] Note %s already gone server-side", accountID, serverID)
	}

	if err := s.tombstones.MarkDeleted(ctx, accountID, enum.NOTE, serverID); err != nil {
		return err
	}
	if err := s.repos.NoteRepository.SoftDelete(ctx, accountID, serverID); err != nil && err != repository.ErrItemNotFound {
		return err
	}
	s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{serverID})
	return nil
}

func (s *NoteService) RestoreNote(ctx context.Context, accountID, serverID string) (*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.RestoreNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	existing, err := s.repos.NoteRepository.GetByServerID(ctx, accountID, serverID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	lease, err := s.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer lease.Release()
	sess := lease.Session()

	var newServerID string
	err = withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
		var opErr error
		newServerID, opErr = sess.RestoreNote(ctx, serverID)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to restore note")
	}
	if newServerID == "" {
		newServerID = serverID
	}

	if newServerID != serverID {
		// The old identity's tombstone stays until a server batch stops
		// listing it; clearing it here would let a lagging feed resurrect
		// the old row.
		log.Printf("[%s] Note restore changed identity %s -> %s", accountID, serverID, newServerID)
		if purgeErr := sess.PurgeNote(ctx, serverID); purgeErr != nil && !isNotFound(purgeErr) {
			log.Printf("[%s] Failed to purge superseded note %s: %v", accountID, serverID, purgeErr)
		}
		if err := s.repos.NoteRepository.Delete(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		restored := &models.Note{
			AccountID: accountID,
			ServerID:  newServerID,
			Subject:   existing.Subject,
			Body:      existing.Body,
		}
		restored.LocalModifiedAt = utils.Now()
		if err := s.repos.NoteRepository.Upsert(ctx, restored); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	} else {
		// Same identity came back: the server acknowledged the note is
		// active again, so the pending-delete suppression must go or the
		// feed's next batch would be dropped.
		if err := s.tombstones.Confirm(ctx, accountID, enum.NOTE, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if err := s.repos.NoteRepository.Restore(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.publisher.PublishEntityChanged(ctx, accountID, enum.NOTE, []string{newServerID})
	return s.repos.NoteRepository.GetByServerID(ctx, accountID, newServerID)
}

func (s *NoteService) DeleteNotes(ctx context.Context, accountID string, serverIDs []string) (interfaces.BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.DeleteNotes")
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
		if err := s.deleteNoteWithSession(ctx, accountID, serverID, sess); err != nil {
			log.Printf("[%s] Batch delete failed for note %s: %v", accountID, serverID, err)
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return result, err
	}
	if err := s.syncer.SyncNotesWithSession(ctx, accountID, sess, true); err != nil {
		log.Printf("[%s] Post-batch note sync failed: %v", accountID, err)
	}

	log.Printf("[%s] Note batch delete: %s", accountID, result.String())
	return result, nil
}

// currentNoteID re-resolves an identifier after a reconcile pass replaced
// the row through an identity change.
func (s *NoteService) currentNoteID(ctx context.Context, accountID, serverID string, before *models.Note) (string, error) {
	if before == nil {
		return serverID, nil
	}
	_, err := s.repos.NoteRepository.GetByServerID(ctx, accountID, serverID)
	if err == nil {
		return serverID, nil
	}
	if err != repository.ErrItemNotFound {
		return "", err
	}
	match, err := s.findActiveByFingerprint(ctx, accountID, before.Fingerprint())
	if err != nil {
		return "", err
	}
	if match != nil {
		log.Printf("[%s] Note %s superseded by %s before delete", accountID, serverID, match.ServerID)
		return match.ServerID, nil
	}
	return serverID, nil
}

func (s *NoteService) findActiveByFingerprint(ctx context.Context, accountID, fingerprint string) (*models.Note, error) {
	notes, err := s.repos.NoteRepository.ListActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, note := range notes {
		if note.Fingerprint() == fingerprint {
			return note, nil
		}
	}
	return nil, nil
}
