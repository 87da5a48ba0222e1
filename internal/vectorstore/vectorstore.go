// Package vectorstore writes chunk embeddings to a similarity index.
package vectorstore

import (
	"context"
	"errors"
)

var ErrVectorStoreUnavailable = errors.New("vector store unavailable")

type Store interface {
	// Upsert writes one vector and returns the id it is stored under.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) (string, error)
	Delete(ctx context.Context, collection string, ids []string) error
}
