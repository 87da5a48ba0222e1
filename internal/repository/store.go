package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docingest/internal/model"
)

// Store bundles the repositories that share one gorm handle. Inside
// Transaction every repository writes through the same session.
type Store struct {
	db        *gorm.DB
	Documents *DocumentRepository
	Chunks    *ChunkRepository
	Jobs      *JobRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Documents: NewDocumentRepository(db),
		Chunks:    NewChunkRepository(db),
		Jobs:      NewJobRepository(db),
	}
}

// Transaction runs fn in a scoped session: committed when fn returns nil,
// rolled back on error or panic.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.ProcessingJob{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}
