package sync

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/tracing"
)

// Tracker records deletions the server has not yet acknowledged. A tombstone
// is only forgotten when a sync response no longer carries its identifier;
// there is no time-based expiry.
type Tracker struct {
	repo interfaces.TombstoneRepository
}

func NewTracker(repo interfaces.TombstoneRepository) *Tracker {
	return &Tracker{repo: repo}
}

func (t *Tracker) MarkDeleted(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.MarkDeleted")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)
	span.SetTag(tracing.SpanTagEntityKind, kind.String())

	if err := t.repo.Add(ctx, accountID, kind, serverID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (t *Tracker) IsTombstoned(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error) {
	return t.repo.Exists(ctx, accountID, kind, serverID)
}

func (t *Tracker) Confirm(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.Confirm")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	if err := t.repo.Remove(ctx, accountID, kind, serverID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	log.Printf("[%s][%s] Tombstone %s confirmed by server", accountID, kind, serverID)
	return nil
}

func (t *Tracker) ConfirmAgainstServerSet(ctx context.Context, accountID string, kind enum.EntityKind, returnedIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.ConfirmAgainstServerSet")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag(tracing.SpanTagEntityKind, kind.String())

	tombstones, err := t.repo.ListByKind(ctx, accountID, kind)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if len(tombstones) == 0 {
		return nil
	}

	returned := make(map[string]bool, len(returnedIDs))
	for _, id := range returnedIDs {
		returned[id] = true
	}

	confirmed := 0
	for _, ts := range tombstones {
		if returned[ts.ServerID] {
			continue
		}
		if err := t.repo.Remove(ctx, accountID, kind, ts.ServerID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		confirmed++
	}
	if confirmed > 0 {
		log.Printf("[%s][%s] Confirmed %d tombstone(s) against server state", accountID, kind, confirmed)
	}
	return nil
}
