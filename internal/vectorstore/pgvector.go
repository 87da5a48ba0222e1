package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkVector is the pgvector row backing PGVectorStore.
type ChunkVector struct {
	ID         string            `gorm:"primaryKey;size:64"`
	Collection string            `gorm:"size:255;not null;index"`
	Embedding  pgvector.Vector   `gorm:"type:vector;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ChunkVector) TableName() string {
	return "chunk_vectors"
}

// PGVectorStore keeps vectors in a postgres table with the vector extension.
type PGVectorStore struct {
	db *gorm.DB
}

func NewPGVectorStore(ctx context.Context, db *gorm.DB) (*PGVectorStore, error) {
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("%w: create vector extension: %v", ErrVectorStoreUnavailable, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&ChunkVector{}); err != nil {
		return nil, fmt.Errorf("auto migrate chunk vectors failed: %w", err)
	}
	return &PGVectorStore{db: db}, nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) (string, error) {
	row := ChunkVector{
		ID:         id,
		Collection: collection,
		Embedding:  pgvector.NewVector(vector),
		Metadata:   datatypes.JSONMap(metadata),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"collection", "embedding", "metadata", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return "", fmt.Errorf("%w: upsert vector: %v", ErrVectorStoreUnavailable, err)
	}
	return id, nil
}

func (s *PGVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id IN ?", collection, ids).
		Delete(&ChunkVector{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete vectors: %v", ErrVectorStoreUnavailable, err)
	}
	return nil
}
