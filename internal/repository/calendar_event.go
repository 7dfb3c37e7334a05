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

type calendarEventRepository struct {
	db *gorm.DB
}

func NewCalendarEventRepository(db *gorm.DB) interfaces.CalendarEventRepository {
	return &calendarEventRepository{db: db}
}

func (r *calendarEventRepository) GetByServerID(ctx context.Context, accountID, serverID string) (*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.GetByServerID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var event models.CalendarEvent
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		First(&event)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrItemNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get calendar event: %w", result.Error)
	}

	return &event, nil
}

func (r *calendarEventRepository) ListActive(ctx context.Context, accountID string) ([]*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.ListActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var events []*models.CalendarEvent
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND soft_deleted = false", accountID).
		Order("starts_at asc").
		Find(&events).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}

	return events, nil
}

func (r *calendarEventRepository) ListAll(ctx context.Context, accountID string) ([]*models.CalendarEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var events []*models.CalendarEvent
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("starts_at asc").
		Find(&events).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list all calendar events: %w", err)
	}

	return events, nil
}

func (r *calendarEventRepository) Upsert(ctx context.Context, event *models.CalendarEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, event.AccountID)

	if event.AccountID == "" || event.ServerID == "" {
		return ErrInvalidInput
	}

	var existing models.CalendarEvent
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", event.AccountID, event.ServerID).
		First(&existing)

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return fmt.Errorf("failed to upsert calendar event: %w", result.Error)
		}
		if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create calendar event: %w", err)
		}
		return nil
	}

	event.ID = existing.ID
	event.CreatedAt = existing.CreatedAt
	event.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update calendar event: %w", err)
	}

	return nil
}

func (r *calendarEventRepository) SoftDelete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.SoftDelete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	now := utils.Now()
	result := r.db.WithContext(ctx).
		Model(&models.CalendarEvent{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"soft_deleted":    true,
			"soft_deleted_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to soft-delete calendar event: %w", result.Error)
	}

	return nil
}

func (r *calendarEventRepository) Restore(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.Restore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.CalendarEvent{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"soft_deleted":    false,
			"soft_deleted_at": nil,
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to restore calendar event: %w", result.Error)
	}

	return nil
}

func (r *calendarEventRepository) Delete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Delete(&models.CalendarEvent{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete calendar event: %w", result.Error)
	}

	return nil
}

func (r *calendarEventRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "calendarEventRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.CalendarEvent{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account calendar events: %w", result.Error)
	}

	return nil
}
