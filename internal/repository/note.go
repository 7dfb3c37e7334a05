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

type noteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) interfaces.NoteRepository {
	return &noteRepository{db: db}
}

func (r *noteRepository) GetByServerID(ctx context.Context, accountID, serverID string) (*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.GetByServerID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var note models.Note
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		First(&note)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrItemNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get note: %w", result.Error)
	}

	return &note, nil
}

func (r *noteRepository) ListActive(ctx context.Context, accountID string) ([]*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.ListActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var notes []*models.Note
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND soft_deleted = false", accountID).
		Order("updated_at desc").
		Find(&notes).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	return notes, nil
}

func (r *noteRepository) ListAll(ctx context.Context, accountID string) ([]*models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var notes []*models.Note
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("updated_at desc").
		Find(&notes).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list all notes: %w", err)
	}

	return notes, nil
}

func (r *noteRepository) Upsert(ctx context.Context, note *models.Note) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, note.AccountID)

	if note.AccountID == "" || note.ServerID == "" {
		return ErrInvalidInput
	}

	var existing models.Note
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", note.AccountID, note.ServerID).
		First(&existing)

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return fmt.Errorf("failed to upsert note: %w", result.Error)
		}
		if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create note: %w", err)
		}
		return nil
	}

	note.ID = existing.ID
	note.CreatedAt = existing.CreatedAt
	note.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(note).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update note: %w", err)
	}

	return nil
}

func (r *noteRepository) SoftDelete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.SoftDelete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	now := utils.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Note{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"soft_deleted":    true,
			"soft_deleted_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to soft-delete note: %w", result.Error)
	}

	return nil
}

func (r *noteRepository) Restore(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.Restore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Note{}).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Updates(map[string]interface{}{
			"soft_deleted":    false,
			"soft_deleted_at": nil,
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to restore note: %w", result.Error)
	}

	return nil
}

func (r *noteRepository) Delete(ctx context.Context, accountID, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id = ?", accountID, serverID).
		Delete(&models.Note{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete note: %w", result.Error)
	}

	return nil
}

func (r *noteRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "noteRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.Note{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account notes: %w", result.Error)
	}

	return nil
}
