package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/internal/utils"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

// Get retrieves the sync key for a specific account and scope
func (r *syncStateRepository) Get(ctx context.Context, accountID, scope string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("scope", scope)

	var state models.SyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND scope = ?", accountID, scope).
		First(&state)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return models.SyncKeyReset, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return "", fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return state.SyncKey, nil
}

// Save persists the sync key for an account scope
func (r *syncStateRepository) Save(ctx context.Context, accountID, scope, syncKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("scope", scope)
	span.SetTag("sync_key", syncKey)

	now := utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ? AND scope = ?", accountID, scope).
		Updates(map[string]interface{}{
			"sync_key":   syncKey,
			"last_sync":  now,
			"updated_at": now,
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(&models.SyncState{
			AccountID: accountID,
			Scope:     scope,
			SyncKey:   syncKey,
			LastSync:  now,
		})
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// Reset sets the scope's sync key back to the reset value
func (r *syncStateRepository) Reset(ctx context.Context, accountID, scope string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Reset")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("scope", scope)

	return r.Save(ctx, accountID, scope, models.SyncKeyReset)
}

// DeleteByAccount deletes all sync states for an account
func (r *syncStateRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.SyncState{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account sync states: %w", result.Error)
	}

	return nil
}
