package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore upserts points over gRPC. Collections are created on first use
// with cosine distance and the dimension of the first vector written.
type QdrantStore struct {
	client *qdrant.Client
	logger *slog.Logger

	mu    sync.Mutex
	ready map[string]bool
}

func NewQdrantStore(host string, port int, apiKey string) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %v", ErrVectorStoreUnavailable, err)
	}
	return &QdrantStore{
		client: client,
		logger: slog.Default().With("component", "qdrant-store"),
		ready:  make(map[string]bool),
	}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[collection] {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", ErrVectorStoreUnavailable, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: create collection: %v", ErrVectorStoreUnavailable, err)
		}
		s.logger.Info("created qdrant collection", "collection", collection, "dimension", dim)
	}
	s.ready[collection] = true
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) (string, error) {
	if err := s.ensureCollection(ctx, collection, len(vector)); err != nil {
		return "", err
	}

	payload, err := qdrant.TryValueMap(metadata)
	if err != nil {
		return "", fmt.Errorf("convert qdrant payload failed: %w", err)
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: upsert point: %v", ErrVectorStoreUnavailable, err)
	}
	return id, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: delete points: %v", ErrVectorStoreUnavailable, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
