package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docingest/internal/ai"
	"docingest/internal/model"
	"docingest/internal/pkg/extract"
	"docingest/internal/platform/database"
	"docingest/internal/repository"
	"docingest/internal/vectorstore"
)

const failMarker = "EMBED_FAIL"

type fakeEmbedder struct {
	mu     sync.Mutex
	failOn string
	calls  int
	// onEmbed runs after the call count is bumped.
	onEmbed func(call int)
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{failOn: failMarker}
}

func (e *fakeEmbedder) Model() string { return "fake-embed" }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) (ai.Embedding, error) {
	e.mu.Lock()
	e.calls++
	call, failOn, hook := e.calls, e.failOn, e.onEmbed
	e.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	if failOn != "" && strings.Contains(text, failOn) {
		return ai.Embedding{}, fmt.Errorf("%w: refused %q", ai.ErrEmbedding, failOn)
	}
	vec := []float32{float32(len(text)), float32(strings.Count(text, " ")), 1, 0}
	return ai.Embedding{Vector: vec, Model: e.Model(), Dimension: len(vec)}, nil
}

func (e *fakeEmbedder) setFailOn(marker string) {
	e.mu.Lock()
	e.failOn = marker
	e.mu.Unlock()
}

type downVectorStore struct{}

func (downVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) (string, error) {
	return "", fmt.Errorf("%w: connection refused", vectorstore.ErrVectorStoreUnavailable)
}

func (downVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	return fmt.Errorf("%w: connection refused", vectorstore.ErrVectorStoreUnavailable)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.DocumentEvent
}

func (p *recordingPublisher) PublishDocumentEvent(ctx context.Context, event model.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type testEnv struct {
	store    *repository.Store
	vectors  *vectorstore.MemoryStore
	embedder *fakeEmbedder
	pipeline *DocumentPipeline
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ingest.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := database.New(context.Background(), database.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return repository.NewStore(db)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newTestStore(t),
		vectors:  vectorstore.NewMemoryStore(),
		embedder: newFakeEmbedder(),
	}
	env.pipeline = NewDocumentPipeline(env.store, extract.NewRegistry(), env.embedder, env.vectors, opts...)
	return env
}

func (env *testEnv) document(t *testing.T, id string) *model.Document {
	t.Helper()
	doc, err := env.store.Documents.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func (env *testEnv) job(t *testing.T, id string) *model.ProcessingJob {
	t.Helper()
	job, err := env.store.Jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (env *testEnv) chunkCount(t *testing.T, documentID string) int64 {
	t.Helper()
	n, err := env.store.Chunks.CountByDocumentID(context.Background(), documentID)
	require.NoError(t, err)
	return n
}

// hashCount counts document rows with the given content hash, soft-deleted included.
func (env *testEnv) hashCount(t *testing.T, hash string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.store.DB().Model(&model.Document{}).Where("file_hash = ?", hash).Count(&n).Error)
	return n
}

// writePages writes a text document whose pages are separated by form feeds.
func writePages(t *testing.T, dir, name string, pages ...string) string {
	t.Helper()
	return writeFile(t, dir, name, []byte(strings.Join(pages, "\f")))
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
