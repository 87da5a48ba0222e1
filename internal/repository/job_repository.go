package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docingest/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.ProcessingJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create processing job failed: %w", err)
	}
	return nil
}

func (r *JobRepository) Save(ctx context.Context, job *model.ProcessingJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("save processing job failed: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	if err := r.db.WithContext(ctx).Where("job_id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get processing job failed: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByDocumentID(ctx context.Context, documentID string) ([]model.ProcessingJob, error) {
	var jobs []model.ProcessingJob
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("started_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list processing jobs failed: %w", err)
	}
	return jobs, nil
}
