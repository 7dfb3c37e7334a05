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

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) GetByServerID(ctx context.Context, accountID, serverID string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByServerID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folder models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder: %w", result.Error)
	}

	return &folder, nil
}

func (r *folderRepository) GetByType(ctx context.Context, accountID string, folderType enum.FolderType) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByType")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.type", folderType.String())

	var folder models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, folderType).
		Order("created_at asc").
		First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder by type: %w", result.Error)
	}

	return &folder, nil
}

func (r *folderRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name asc").
		Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}

// Upsert writes a folder with insert-or-replace semantics. The update path
// touches only the folder row; messages keyed by the folder's server
// identifier are left alone.
func (r *folderRepository) Upsert(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, folder.AccountID)

	if folder.AccountID == "" || folder.ServerID == "" {
		return ErrInvalidInput
	}

	var existing models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", folder.AccountID, folder.ServerID).
		First(&existing)

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return fmt.Errorf("failed to upsert folder: %w", result.Error)
		}
		if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create folder: %w", err)
		}
		return nil
	}

	folder.ID = existing.ID
	folder.CreatedAt = existing.CreatedAt
	if folder.SyncKey == "" {
		folder.SyncKey = existing.SyncKey
	}
	// Counts are maintained by UpdateCounts after message sync, not by the
	// folder hierarchy pipeline.
	folder.UnreadCount = existing.UnreadCount
	folder.TotalCount = existing.TotalCount
	folder.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(folder).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update folder: %w", err)
	}

	return nil
}

func (r *folderRepository) SaveSyncKey(ctx context.Context, accountID, serverID, syncKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.SaveSyncKey")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"sync_key":   syncKey,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save folder sync key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFolderNotFound
	}

	return nil
}

func (r *folderRepository) UpdateCounts(ctx context.Context, accountID, serverID string, unread, total int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpdateCounts")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"unread_count": unread,
			"total_count":  total,
			"updated_at":   utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder counts: %w", result.Error)
	}

	return nil
}

func (r *folderRepository) Delete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Delete(&models.Folder{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete folder: %w", result.Error)
	}

	return nil
}

func (r *folderRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.Folder{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account folders: %w", result.Error)
	}

	return nil
}
