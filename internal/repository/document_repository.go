package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docingest/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Omit("Chunks").Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Omit("Chunks").Save(doc).Error; err != nil {
		return fmt.Errorf("save document failed: %w", err)
	}
	return nil
}

// GetByID returns nil when the document does not exist.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("document_id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// FindCompletedByHash returns the oldest live completed document with the
// given content hash, or nil.
func (r *DocumentRepository) FindCompletedByHash(ctx context.Context, hash string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("file_hash = ? AND status = ? AND is_deleted = ?", hash, model.DocumentStatusCompleted, false).
		Order("created_at ASC").
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find document by hash failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) SoftDelete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("document_id = ?", id).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("soft delete document failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("soft delete document failed: %w", gorm.ErrRecordNotFound)
	}
	return nil
}
