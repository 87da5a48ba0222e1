package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainEmbedder embeds through langchaingo's OpenAI client.
type LangChainEmbedder struct {
	model    string
	embedder embeddings.Embedder
	logger   *slog.Logger
}

func NewLangChainEmbedder(cfg EmbeddingConfig) (*LangChainEmbedder, error) {
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers ignore the token but the client requires one
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create langchain openai client failed: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create langchain embedder failed: %w", err)
	}
	return &LangChainEmbedder{
		model:    cfg.Model,
		embedder: embedder,
		logger:   slog.Default().With("component", "langchain-embedder"),
	}, nil
}

func (e *LangChainEmbedder) Model() string {
	return e.model
}

func (e *LangChainEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	e.logger.Debug("generating embedding", "length", len(text))

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return Embedding{}, fmt.Errorf("%w: empty embedding", ErrEmbedding)
	}
	return Embedding{Vector: vector, Model: e.model, Dimension: len(vector)}, nil
}
