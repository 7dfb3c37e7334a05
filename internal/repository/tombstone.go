package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/internal/utils"
)

type tombstoneRepository struct {
	db *gorm.DB
}

func NewTombstoneRepository(db *gorm.DB) interfaces.TombstoneRepository {
	return &tombstoneRepository{db: db}
}

func (r *tombstoneRepository) Add(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tombstoneRepository.Add")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("kind", kind.String())
	tracing.TagEntity(span, serverID)

	if accountID == "" || serverID == "" {
		return ErrInvalidInput
	}

	// Adding the same identifier twice is a no-op.
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Tombstone{}).
		Where("account_id = ? AND kind = ? AND server_id = ?", accountID, kind, serverID).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to check tombstone: %w", err)
	}
	if count > 0 {
		return nil
	}

	tombstone := &models.Tombstone{
		AccountID: accountID,
		Kind:      kind,
		ServerID:  serverID,
		DeletedAt: utils.Now(),
	}
	if err := r.db.WithContext(ctx).Create(tombstone).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to add tombstone: %w", err)
	}

	return nil
}

func (r *tombstoneRepository) Exists(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tombstoneRepository.Exists")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Tombstone{}).
		Where("account_id = ? AND kind = ? AND server_id = ?", accountID, kind, serverID).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("failed to check tombstone: %w", err)
	}

	return count > 0, nil
}

func (r *tombstoneRepository) ListByKind(ctx context.Context, accountID string, kind enum.EntityKind) ([]*models.Tombstone, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tombstoneRepository.ListByKind")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var tombstones []*models.Tombstone
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND kind = ?", accountID, kind).
		Find(&tombstones).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}

	return tombstones, nil
}

func (r *tombstoneRepository) Remove(ctx context.Context, accountID string, kind enum.EntityKind, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tombstoneRepository.Remove")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, serverID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND kind = ? AND server_id = ?", accountID, kind, serverID).
		Delete(&models.Tombstone{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to remove tombstone: %w", result.Error)
	}

	return nil
}

func (r *tombstoneRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tombstoneRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.Tombstone{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account tombstones: %w", result.Error)
	}

	return nil
}
