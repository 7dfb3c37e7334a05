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

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) GetByServerID(ctx context.Context, accountID, serverID string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByServerID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var message models.Message
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		First(&message)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrItemNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}

	return &message, nil
}

func (r *messageRepository) ListByFolder(ctx context.Context, accountID, folderServerID string) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.server_id", folderServerID)

	var messages []*models.Message
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_server_id = ?", accountID, folderServerID).
		Order("sent_at desc").
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

func (r *messageRepository) Upsert(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, message.AccountID)

	if message.AccountID == "" || message.ServerID == "" {
		return ErrInvalidInput
	}

	var existing models.Message
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", message.AccountID, message.ServerID).
		First(&existing)

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return fmt.Errorf("failed to upsert message: %w", result.Error)
		}
		if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	}

	message.ID = existing.ID
	message.CreatedAt = existing.CreatedAt
	message.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update message: %w", err)
	}

	return nil
}

func (r *messageRepository) Delete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Delete(&models.Message{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.Message{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account messages: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) CountByFolder(ctx context.Context, accountID, folderServerID string) (int, int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.CountByFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("account_id = ? AND folder_server_id = ?", accountID, folderServerID).
		Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var unread int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("account_id = ? AND folder_server_id = ? AND read = false", accountID, folderServerID).
		Count(&unread).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return int(unread), int(total), nil
}
