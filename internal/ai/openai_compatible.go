package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatibleClient calls the /embeddings endpoint directly over HTTP.
type OpenAICompatibleClient struct {
	cfg        EmbeddingConfig
	httpClient *http.Client
}

func NewOpenAICompatibleClient(cfg EmbeddingConfig) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *OpenAICompatibleClient) Model() string {
	return c.cfg.Model
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, text string) (Embedding, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Embedding{}, fmt.Errorf("%w: input is empty", ErrEmbedding)
	}

	vectors, err := c.post(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return Embedding{}, fmt.Errorf("%w: empty embedding in response", ErrEmbedding)
	}
	return Embedding{Vector: vectors[0], Model: c.cfg.Model, Dimension: len(vectors[0])}, nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, input any) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": c.cfg.Model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEmbedding, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEmbedding, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: response status %d: %s", ErrEmbedding, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", ErrEmbedding, err)
	}
	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}
