package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// SyncCalendarWithSession synchronizes calendar events over an already held
// session. bypassStalenessGuard is set by mutation flows syncing right after
// a confirmed server write.
func (s *Service) SyncCalendarWithSession(ctx context.Context, accountID string, sess interfaces.RemoteSession, bypassStalenessGuard bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncCalendar")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("bypass_staleness", bypassStalenessGuard)

	cursor := stateCursor(s.repos.SyncStateRepository, accountID, models.SyncScopeCalendar)
	rec := s.calendarReconciler(accountID)

	attempt := func(ctx context.Context, syncKey string) (string, error) {
		result, err := sess.CalendarSync(ctx, syncKey)
		if err != nil {
			return "", err
		}

		var active, trashed []*models.CalendarEvent
		for _, re := range result.Events {
			event := &models.CalendarEvent{
				AccountID: accountID,
				ServerID:  re.ServerID,
				Subject:   re.Subject,
				Location:  re.Location,
				Body:      re.Body,
				StartsAt:  re.StartsAt,
				EndsAt:    re.EndsAt,
				AllDay:    re.AllDay,
				Attendees: re.Attendees,
			}
			if re.SoftDeleted {
				trashed = append(trashed, event)
			} else {
				active = append(active, event)
			}
		}

		b := batch[*models.CalendarEvent]{
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

	s.publisher.PublishSyncCompleted(ctx, accountID, models.SyncScopeCalendar)
	return nil
}

func (s *Service) calendarReconciler(accountID string) *reconciler[*models.CalendarEvent] {
	return &reconciler[*models.CalendarEvent]{
		cfg:        s.cfg,
		tombstones: s.tombstones,
		accountID:  accountID,
		kind:       enum.EVENT,
		store: itemStore[*models.CalendarEvent]{
			list: func(ctx context.Context) ([]*models.CalendarEvent, error) {
				return s.repos.CalendarEventRepository.ListAll(ctx, accountID)
			},
			upsert: func(ctx context.Context, event *models.CalendarEvent) error {
				return s.repos.CalendarEventRepository.Upsert(ctx, event)
			},
			remove: func(ctx context.Context, serverID string) error {
				return s.repos.CalendarEventRepository.Delete(ctx, accountID, serverID)
			},
			softDelete: func(ctx context.Context, serverID string) error {
				return s.repos.CalendarEventRepository.SoftDelete(ctx, accountID, serverID)
			},
		},
	}
}
