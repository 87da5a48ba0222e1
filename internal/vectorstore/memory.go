package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

type Record struct {
	Vector   []float32
	Metadata map[string]any
}

// MemoryStore keeps vectors in process. Used for local runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVectorStoreUnavailable, err)
	}
	if id == "" || len(vector) == 0 {
		return "", fmt.Errorf("upsert vector failed: id and vector are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]Record)
		s.collections[collection] = c
	}
	c[id] = Record{Vector: slices.Clone(vector), Metadata: maps.Clone(metadata)}
	return id, nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVectorStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.collections[collection], id)
	}
	return nil
}

func (s *MemoryStore) Get(collection, id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.collections[collection][id]
	return r, ok
}

func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
