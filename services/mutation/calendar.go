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

// CalendarService orchestrates user-initiated calendar mutations: write to
// the server first, reconcile local state after. The whole mutation runs
// under the account's session lease, so the follow-up sync uses the
// *WithSession variants rather than re-acquiring.
type CalendarService struct {
	cfg        *config.SyncConfig
	repos      *repository.Repositories
	sessions   *session.Cache
	tombstones interfaces.TombstoneTracker
	syncer     *syncsvc.Service
	publisher  interfaces.EventPublisher
}

func NewCalendarService(cfg *config.SyncConfig, repos *repository.Repositories, sessions *session.Cache, tombstones interfaces.TombstoneTracker, syncer *syncsvc.Service, publisher interfaces.EventPublisher) *CalendarService {
	return &CalendarService{
		cfg:        cfg,
		repos:      repos,
		sessions:   sessions,
		tombstones: tombstones,
		syncer:     syncer,
		publisher:  publisher,
	}
}

func eventFromParams(accountID string, params interfaces.EventParams) *models.CalendarEvent {
	return &models.CalendarEvent{
		AccountID: accountID,
		Subject:   params.Subject,
		Location:  params.Location,
		Body:      params.Body,
		StartsAt:  params.StartsAt,
		EndsAt:    params.EndsAt,
		AllDay:    params.AllDay,
		Attendees: params.Attendees,
	}
}

// CreateEvent creates an event on the server and returns the synchronized
// local row. A pending create with identical content short-circuits to the
// existing row instead of issuing a duplicate server write.
func (s *CalendarService) CreateEvent(ctx context.Context, accountID string, params interfaces.EventParams) (*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CalendarService.CreateEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	candidate := eventFromParams(accountID, params)

	// Create-dedup: the same content already exists locally, most likely a
	// double-tapped submit or a retried request.
	existing, err := s.findActiveByFingerprint(ctx, accountID, candidate.Fingerprint())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		log.Printf("[%s] Duplicate event create suppressed, returning %s", accountID, existing.ServerID)
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
		serverID, opErr = sess.CreateEvent(ctx, params)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to create event")
	}

	if utils.IsLocalPlaceholderID(serverID) {
		// The server accepted the create but issued no durable identifier.
		// Sync immediately and find the row by content.
		log.Printf("[%s] Event create returned placeholder id %s", accountID, serverID)
		if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
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
		// Not visible yet; persist under the placeholder so the next sync's
		// identity-change step adopts the real identifier.
		candidate.ServerID = serverID
		candidate.LocalModifiedAt = utils.Now()
		if err := s.repos.CalendarEventRepository.Upsert(ctx, candidate); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{serverID})
		return candidate, nil
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	created, err := s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, serverID)
	if err == nil {
		s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{serverID})
		return created, nil
	}
	if err != repository.ErrItemNotFound {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// The server confirmed the create but the change feed lags. Persist the
	// row so the caller sees it; the next sync converges.
	candidate.ServerID = serverID
	candidate.LocalModifiedAt = utils.Now()
	if err := s.repos.CalendarEventRepository.Upsert(ctx, candidate); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{serverID})
	return candidate, nil
}

// UpdateEvent applies an edit to the server and refreshes the local row. A
// server that reissues the identifier on update gets the old row replaced,
// never duplicated.
func (s *CalendarService) UpdateEvent(ctx context.Context, accountID, serverID string, params interfaces.EventParams) (*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CalendarService.UpdateEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	existing, err := s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, serverID)
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
		newServerID, opErr = sess.UpdateEvent(ctx, serverID, params)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to update event")
	}
	if newServerID == "" {
		newServerID = serverID
	}

	updated := eventFromParams(accountID, params)
	updated.ID = existing.ID
	updated.ServerID = newServerID
	updated.LocalModifiedAt = utils.Now()

	if newServerID != serverID {
		// Identity change: replace the old row so the reconciler never sees
		// two rows with the same content.
		log.Printf("[%s] Event update changed identity %s -> %s", accountID, serverID, newServerID)
		if err := s.repos.CalendarEventRepository.Delete(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		updated.ID = ""
	}
	if err := s.repos.CalendarEventRepository.Upsert(ctx, updated); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{newServerID})
	return s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, newServerID)
}

// DeleteEvent reconciles first so the delete targets the server's current
// identifier, then deletes on the server, tombstones the identifier and
// soft-deletes the local row. A server-side not-found counts as success: the
// item is gone either way.
func (s *CalendarService) DeleteEvent(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CalendarService.DeleteEvent")
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

	// Pre-delete reconcile so the identifier sent to the server is its
	// current one, not one superseded by an identity change.
	existing, err := s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, serverID)
	if err != nil && err != repository.ErrItemNotFound {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	serverID, err = s.currentEventID(ctx, accountID, serverID, existing)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.deleteEventWithSession(ctx, accountID, serverID, sess); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *CalendarService) deleteEventWithSession(ctx context.Context, accountID, serverID string, sess interfaces.RemoteSession) error {
	err := withRetry(ctx, s.cfg.RetryDelay, func(ctx context.Context) error {
		return sess.DeleteEvent(ctx, serverID)
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrap(err, "failed to delete event")
	}
	if isNotFound(err) {
		log.Printf("[%s] Event %s already gone server-side", accountID, serverID)
	}

	if err := s.tombstones.MarkDeleted(ctx, accountID, enum.EVENT, serverID); err != nil {
		return err
	}
	if err := s.repos.CalendarEventRepository.SoftDelete(ctx, accountID, serverID); err != nil && err != repository.ErrItemNotFound {
		return err
	}
	s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{serverID})
	return nil
}

// RestoreEvent undoes a soft delete. Servers commonly implement restore as
// create-new-plus-purge-old, so the returned identifier may differ from the
// requested one; the local row follows the new identity.
func (s *CalendarService) RestoreEvent(ctx context.Context, accountID, serverID string) (*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CalendarService.RestoreEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	existing, err := s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, serverID)
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
		newServerID, opErr = sess.RestoreEvent(ctx, serverID)
		return opErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to restore event")
	}
	if newServerID == "" {
		newServerID = serverID
	}

	if newServerID != serverID {
		// The old identity's tombstone is left in place on purpose: only
		// a server batch that stops listing it may clear it. Dropping it
		// here would let a lagging feed resurrect the old row.
		log.Printf("[%s] Event restore changed identity %s -> %s", accountID, serverID, newServerID)
		// Best effort: the server may leave the trashed original behind.
		if purgeErr := sess.PurgeEvent(ctx, serverID); purgeErr != nil && !isNotFound(purgeErr) {
			log.Printf("[%s] Failed to purge superseded event %s: %v", accountID, serverID, purgeErr)
		}
		if err := s.repos.CalendarEventRepository.Delete(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		restored := &models.CalendarEvent{
			AccountID: accountID,
			ServerID:  newServerID,
			Subject:   existing.Subject,
			Location:  existing.Location,
			Body:      existing.Body,
			StartsAt:  existing.StartsAt,
			EndsAt:    existing.EndsAt,
			AllDay:    existing.AllDay,
			Attendees: existing.Attendees,
		}
		restored.LocalModifiedAt = utils.Now()
		if err := s.repos.CalendarEventRepository.Upsert(ctx, restored); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	} else {
		// Same identity came back: the server acknowledged the event is
		// active again, so the pending-delete suppression must go or the
		// feed's next batch would be dropped.
		if err := s.tombstones.Confirm(ctx, accountID, enum.EVENT, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if err := s.repos.CalendarEventRepository.Restore(ctx, accountID, serverID); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return nil, err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.publisher.PublishEntityChanged(ctx, accountID, enum.EVENT, []string{newServerID})
	return s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, newServerID)
}

// DeleteEvents deletes a batch of events under one session lease, pacing
// server calls and reporting partial failure instead of aborting the group.
func (s *CalendarService) DeleteEvents(ctx context.Context, accountID string, serverIDs []string) (interfaces.BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CalendarService.DeleteEvents")
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
		if err := s.deleteEventWithSession(ctx, accountID, serverID, sess); err != nil {
			log.Printf("[%s] Batch delete failed for event %s: %v", accountID, serverID, err)
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if err := sleepCtx(ctx, s.cfg.PostMutationDelay); err != nil {
		return result, err
	}
	if err := s.syncer.SyncCalendarWithSession(ctx, accountID, sess, true); err != nil {
		log.Printf("[%s] Post-batch calendar sync failed: %v", accountID, err)
	}

	log.Printf("[%s] Event batch delete: %s", accountID, result.String())
	return result, nil
}

// currentEventID re-resolves an identifier after a reconcile pass. When the
// pass replaced the row through an identity change, the delete must target
// the identifier the server now uses.
func (s *CalendarService) currentEventID(ctx context.Context, accountID, serverID string, before *models.CalendarEvent) (string, error) {
	if before == nil {
		return serverID, nil
	}
	_, err := s.repos.CalendarEventRepository.GetByServerID(ctx, accountID, serverID)
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
		log.Printf("[%s] Event %s superseded by %s before delete", accountID, serverID, match.ServerID)
		return match.ServerID, nil
	}
	return serverID, nil
}

func (s *CalendarService) findActiveByFingerprint(ctx context.Context, accountID, fingerprint string) (*models.CalendarEvent, error) {
	events, err := s.repos.CalendarEventRepository.ListActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.Fingerprint() == fingerprint {
			return event, nil
		}
	}
	return nil, nil
}
