package ai

import (
	"context"
	"errors"
)

var ErrEmbedding = errors.New("embedding failed")

// Embedding is one vector together with the model that produced it.
type Embedding struct {
	Vector    []float32
	Model     string
	Dimension int
}

type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	Model() string
}

// EmbeddingConfig holds API settings for an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}
