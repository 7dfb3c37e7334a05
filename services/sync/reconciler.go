package sync

import (
	"context"
	"log"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/internal/utils"
)

// syncable is the contract every reconciled entity kind satisfies.
// Fingerprint is the content identity (identifier-independent); Equals is
// field-level equality used by the staleness guard.
type syncable[T any] interface {
	GetServerID() string
	GetLocalModifiedAt() time.Time
	SetLocalModifiedAt(time.Time)
	GetSoftDeleted() bool
	GetSoftDeletedAt() *time.Time
	Fingerprint() string
	Equals(T) bool
}

// itemStore adapts one entity kind's repository for the reconciler.
// softDelete is nil for kinds without a trash concept (folders, messages);
// those are removed outright when the server deletes them.
type itemStore[T syncable[T]] struct {
	list       func(ctx context.Context) ([]T, error)
	upsert     func(ctx context.Context, item T) error
	remove     func(ctx context.Context, serverID string) error
	softDelete func(ctx context.Context, serverID string) error
}

// batch is one server sync response, normalized. fullState means the server
// returned its complete item set (the response to a reset cursor); otherwise
// the batch is a delta of changed items plus explicitly deleted identifiers.
type batch[T syncable[T]] struct {
	fullState   bool
	active      []T
	softDeleted []T
	deletedIDs  []string
}

type reconcileStats struct {
	Inserted          int
	Updated           int
	RemovedLocal      int
	SkippedStale      int
	DroppedTombstoned int
	DroppedRecentWipe int
	IdentityChanges   int
}

// reconciler merges server batches into local state for a single
// (account, entity kind) scope.
type reconciler[T syncable[T]] struct {
	cfg        *config.SyncConfig
	tombstones interfaces.TombstoneTracker
	accountID  string
	kind       enum.EntityKind
	store      itemStore[T]
}

// apply runs the reconciliation steps in order: missing-on-server removal,
// explicit deletions, tombstone filtering, staleness guard, duplicate
// (identity change) reconciliation, upsert, tombstone confirmation. Applying
// the same batch twice with no intervening local mutation changes nothing
// the second time.
func (r *reconciler[T]) apply(ctx context.Context, b batch[T], bypassStalenessGuard bool) (reconcileStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reconciler.apply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, r.accountID)
	span.SetTag(tracing.SpanTagEntityKind, r.kind.String())
	span.SetTag("batch.full_state", b.fullState)
	span.SetTag("batch.active", len(b.active))
	span.SetTag("batch.deleted", len(b.deletedIDs))

	stats := reconcileStats{}
	now := utils.Now()

	local, err := r.store.list(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return stats, err
	}

	localByID := make(map[string]T, len(local))
	localByFingerprint := make(map[string]T, len(local))
	for _, item := range local {
		localByID[item.GetServerID()] = item
		localByFingerprint[item.Fingerprint()] = item
	}

	activeSet := make(map[string]bool, len(b.active))
	for _, item := range b.active {
		activeSet[item.GetServerID()] = true
	}

	// Everything the server still acknowledges in this batch, used for
	// tombstone confirmation on full-state responses.
	returnedIDs := make([]string, 0, len(b.active)+len(b.softDeleted))
	for _, item := range b.active {
		returnedIDs = append(returnedIDs, item.GetServerID())
	}
	for _, item := range b.softDeleted {
		returnedIDs = append(returnedIDs, item.GetServerID())
	}

	// Step 1: on a full-state response, anything locally active the server
	// no longer lists is gone server-side.
	if b.fullState {
		for _, item := range local {
			if item.GetSoftDeleted() || activeSet[item.GetServerID()] {
				continue
			}
			if err := r.removeLocal(ctx, item.GetServerID()); err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
			stats.RemovedLocal++
		}
	}

	// Explicit deletions from a delta batch.
	for _, serverID := range b.deletedIDs {
		existing, exists := localByID[serverID]
		if !exists || existing.GetSoftDeleted() {
			continue
		}
		if err := r.removeLocal(ctx, serverID); err != nil {
			tracing.TraceErr(span, err)
			return stats, err
		}
		stats.RemovedLocal++
	}

	// Steps 2-5 for each incoming active item.
	for _, item := range b.active {
		serverID := item.GetServerID()

		// Step 2: the server is lagging behind a user delete.
		tombstoned, err := r.tombstones.IsTombstoned(ctx, r.accountID, r.kind, serverID)
		if err != nil {
			tracing.TraceErr(span, err)
			return stats, err
		}
		if tombstoned {
			stats.DroppedTombstoned++
			continue
		}

		existing, exists := localByID[serverID]

		// Step 3: don't clobber an edit the server hasn't caught up to.
		if exists && !bypassStalenessGuard && !existing.Equals(item) {
			if existing.GetLocalModifiedAt().After(now.Add(-r.cfg.StalenessWindow)) {
				stats.SkippedStale++
				continue
			}
		}

		// Step 4: same content under a different identifier means the
		// server reissued the identity (common after update/restore).
		if match, ok := localByFingerprint[item.Fingerprint()]; ok && match.GetServerID() != serverID {
			if deletedAt := match.GetSoftDeletedAt(); match.GetSoftDeleted() && deletedAt != nil &&
				deletedAt.After(now.Add(-r.cfg.DedupSuppressionWindow)) {
				// The user just removed this content; adopting the new
				// identity would resurrect it.
				stats.DroppedRecentWipe++
				continue
			}
			if err := r.store.remove(ctx, match.GetServerID()); err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
			delete(localByID, match.GetServerID())
			stats.IdentityChanges++
			log.Printf("[%s][%s] Identity change %s -> %s", r.accountID, r.kind, match.GetServerID(), serverID)
		}

		// Step 5: upsert, keeping the local modification timestamp of rows
		// that already existed so staleness comparisons stay meaningful.
		if exists {
			if existing.Equals(item) && existing.GetSoftDeleted() == item.GetSoftDeleted() {
				continue
			}
			item.SetLocalModifiedAt(existing.GetLocalModifiedAt())
			if err := r.store.upsert(ctx, item); err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
			stats.Updated++
		} else {
			if item.GetLocalModifiedAt().IsZero() {
				item.SetLocalModifiedAt(now)
			}
			if err := r.store.upsert(ctx, item); err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
			stats.Inserted++
		}
	}

	// Server-side trashed items land in local trash unless tombstoned.
	for _, item := range b.softDeleted {
		tombstoned, err := r.tombstones.IsTombstoned(ctx, r.accountID, r.kind, item.GetServerID())
		if err != nil {
			tracing.TraceErr(span, err)
			return stats, err
		}
		if tombstoned {
			stats.DroppedTombstoned++
			continue
		}
		existing, exists := localByID[item.GetServerID()]
		if !exists || existing.GetSoftDeleted() || r.store.softDelete == nil {
			continue
		}
		if err := r.store.softDelete(ctx, item.GetServerID()); err != nil {
			tracing.TraceErr(span, err)
			return stats, err
		}
		stats.Updated++
	}

	// Step 6: forget tombstones the server has confirmed. On a full-state
	// response an absent identifier is a confirmation; on a delta the
	// explicit deleted set is.
	if b.fullState {
		if err := r.tombstones.ConfirmAgainstServerSet(ctx, r.accountID, r.kind, returnedIDs); err != nil {
			tracing.TraceErr(span, err)
			return stats, err
		}
	} else {
		for _, serverID := range b.deletedIDs {
			tombstoned, err := r.tombstones.IsTombstoned(ctx, r.accountID, r.kind, serverID)
			if err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
			if !tombstoned {
				continue
			}
			if err := r.tombstones.Confirm(ctx, r.accountID, r.kind, serverID); err != nil {
				tracing.TraceErr(span, err)
				return stats, err
			}
		}
	}

	span.SetTag("stats.inserted", stats.Inserted)
	span.SetTag("stats.updated", stats.Updated)
	span.SetTag("stats.removed", stats.RemovedLocal)
	span.SetTag("stats.skipped_stale", stats.SkippedStale)
	return stats, nil
}

func (r *reconciler[T]) removeLocal(ctx context.Context, serverID string) error {
	if r.store.softDelete != nil {
		return r.store.softDelete(ctx, serverID)
	}
	return r.store.remove(ctx, serverID)
}
