package sync

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// cursorController drives one sync scope's server cursor. It loads the stored
// key, runs the attempt, persists the advanced key, and owns the recovery
// policy: a recoverable failure (cursor desync, transient server error) with a
// non-reset key resets the scope to the initial key and retries exactly once.
// The single retry budget is shared across every reset trigger (failed
// attempt, unusable returned key, failed validation) so a broken scope can
// never loop.
//
// Cursor storage is pluggable: account-level scopes persist through the sync
// state table, the per-folder message cursor lives on the folder row.
type cursorController struct {
	accountID string
	scope     string

	load  func(ctx context.Context) (string, error)
	save  func(ctx context.Context, syncKey string) error
	reset func(ctx context.Context) error
}

// stateCursor builds a controller over the sync state table.
func stateCursor(states interfaces.SyncStateRepository, accountID, scope string) *cursorController {
	return &cursorController{
		accountID: accountID,
		scope:     scope,
		load: func(ctx context.Context) (string, error) {
			return states.Get(ctx, accountID, scope)
		},
		save: func(ctx context.Context, syncKey string) error {
			return states.Save(ctx, accountID, scope, syncKey)
		},
		reset: func(ctx context.Context) error {
			return states.Reset(ctx, accountID, scope)
		},
	}
}

// folderCursor builds a controller over a folder row's message sync key.
func folderCursor(folders interfaces.FolderRepository, accountID, folderServerID string) *cursorController {
	return &cursorController{
		accountID: accountID,
		scope:     models.SyncScopeMessages(folderServerID),
		load: func(ctx context.Context) (string, error) {
			folder, err := folders.GetByServerID(ctx, accountID, folderServerID)
			if err != nil {
				return "", err
			}
			if folder.SyncKey == "" {
				return models.SyncKeyReset, nil
			}
			return folder.SyncKey, nil
		},
		save: func(ctx context.Context, syncKey string) error {
			return folders.SaveSyncKey(ctx, accountID, folderServerID, syncKey)
		},
		reset: func(ctx context.Context) error {
			return folders.SaveSyncKey(ctx, accountID, folderServerID, models.SyncKeyReset)
		},
	}
}

// cursorAttempt performs one sync round against the server using syncKey and
// returns the advanced key. cursorValidate, when non-nil, checks local state
// after a successful attempt; its error forces a reset-and-retry, and a
// failure that survives the retry is logged and accepted.
type cursorAttempt func(ctx context.Context, syncKey string) (string, error)
type cursorValidate func(ctx context.Context) error

func (c *cursorController) run(ctx context.Context, attempt cursorAttempt, validate cursorValidate) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorController.run")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.accountID)
	span.SetTag("sync.scope", c.scope)

	syncKey, err := c.load(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("sync.key", syncKey)

	retried := false
	for {
		newKey, attemptErr := attempt(ctx, syncKey)

		if attemptErr != nil {
			kind, ok := interfaces.RemoteErrorKind(attemptErr)
			recoverable := ok && (kind == interfaces.ErrorConflict || kind == interfaces.ErrorTransient)
			if recoverable && syncKey != models.SyncKeyReset && !retried {
				log.Printf("[%s][%s] Sync with key %s failed (%v), resetting", c.accountID, c.scope, syncKey, attemptErr)
				if err := c.reset(ctx); err != nil {
					tracing.TraceErr(span, err)
					return err
				}
				syncKey = models.SyncKeyReset
				retried = true
				continue
			}
			tracing.TraceErr(span, attemptErr)
			return attemptErr
		}

		if newKey == "" || newKey == models.SyncKeyReset {
			if !retried {
				log.Printf("[%s][%s] Server returned unusable sync key %q, resetting", c.accountID, c.scope, newKey)
				if err := c.reset(ctx); err != nil {
					tracing.TraceErr(span, err)
					return err
				}
				syncKey = models.SyncKeyReset
				retried = true
				continue
			}
			err := errors.Errorf("sync scope %s returned unusable key after reset", c.scope)
			tracing.TraceErr(span, err)
			return err
		}

		if err := c.save(ctx, newKey); err != nil {
			tracing.TraceErr(span, err)
			return err
		}

		if validate != nil {
			if validateErr := validate(ctx); validateErr != nil {
				if !retried {
					log.Printf("[%s][%s] Post-sync validation failed (%v), resetting", c.accountID, c.scope, validateErr)
					if err := c.reset(ctx); err != nil {
						tracing.TraceErr(span, err)
						return err
					}
					syncKey = models.SyncKeyReset
					retried = true
					continue
				}
				// The reset did not cure it; accept the state as served
				// rather than wedging the scope.
				log.Printf("[%s][%s] Post-sync validation still failing after reset, accepting state: %v", c.accountID, c.scope, validateErr)
				span.SetTag("sync.validation_accepted", true)
			}
		}

		return nil
	}
}
