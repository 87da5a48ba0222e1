package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docingest/internal/pkg/extract"
)

func newBatch(env *testEnv) *BatchPipeline {
	return NewBatchPipeline(env.pipeline, env.store, extract.NewRegistry(), nil)
}

func outcomeByName(t *testing.T, res *BatchResult, name string) FileOutcome {
	t.Helper()
	for _, o := range res.Files {
		if filepath.Base(o.Path) == name {
			return o
		}
	}
	t.Fatalf("no outcome for %s", name)
	return FileOutcome{}
}

func TestBatch_SkipsOversizeAndDuplicateFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writePages(t, dir, "a.txt", "alpha content")
	writePages(t, dir, "b.txt", "beta content")
	writePages(t, dir, "c.txt", "gamma content")
	writePages(t, dir, "big.txt", strings.Repeat("large ", 400))
	writePages(t, dir, "dup.txt", "alpha content")

	res, err := newBatch(env).Run(context.Background(), BatchRequest{
		FolderPath:    dir,
		MaxFileSizeMB: 0.001,
		SkipExisting:  true,
		Workers:       1,
	})
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 5, res.Stats.FilesFound)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Equal(t, 3, res.Processed())
	assert.Equal(t, 3, res.Stats.Successful)
	assert.Equal(t, 0, res.Stats.Failed)
	assert.Equal(t, 3, res.Stats.PagesProcessed)
	assert.Equal(t, 3, res.Stats.VectorsCreated)
	assert.Equal(t, 3, res.Stats.ChunksSaved)

	assert.Equal(t, SkipReasonTooLarge, outcomeByName(t, res, "big.txt").SkipReason)
	assert.Equal(t, SkipReasonDuplicate, outcomeByName(t, res, "dup.txt").SkipReason)
	assert.Equal(t, FileSucceeded, outcomeByName(t, res, "a.txt").Status)

	m := res.ToMap()
	assert.Equal(t, 5, m["total_files_found"])
	assert.Equal(t, 3, m["total_files_processed"])
	assert.Equal(t, 2, m["skipped_files"])
	assert.Equal(t, 3, m["detailed_stats"].(map[string]any)["total_vectors_created"])
	assert.Len(t, m["files"], 5)
}

func TestBatch_SkipsContentAlreadyIngested(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()
	first := writePages(t, dir, "a.txt", "already here")
	writePages(t, dir, "b.txt", "new content")

	pre, err := env.pipeline.Process(ctx, DocumentRequest{Path: first})
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, pre.Status)

	res, err := newBatch(env).Run(ctx, BatchRequest{FolderPath: dir, MaxFileSizeMB: 10, SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, SkipReasonDuplicate, outcomeByName(t, res, "a.txt").SkipReason)

	// without skip_existing the same content is ingested again
	res, err = newBatch(env).Run(ctx, BatchRequest{FolderPath: dir, MaxFileSizeMB: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Successful)
	assert.Equal(t, 0, res.Stats.Skipped)
}

func TestBatch_AllFilesFail(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writePages(t, dir, "one.txt", failMarker+" one")
	writePages(t, dir, "two.txt", failMarker+" two")
	writePages(t, dir, "three.txt", "   ")

	res, err := newBatch(env).Run(context.Background(), BatchRequest{FolderPath: dir, MaxFileSizeMB: 10})
	require.NoError(t, err)

	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, 0, res.Stats.Successful)
	assert.Equal(t, 3, res.Stats.Failed)
	assert.Equal(t, 3, res.Processed())
	assert.Zero(t, res.Stats.PagesProcessed)
	for _, o := range res.Files {
		assert.Equal(t, FileFailed, o.Status)
		assert.NotEmpty(t, o.Error)
	}
}

func TestBatch_EmptyFolderSucceeds(t *testing.T) {
	env := newTestEnv(t)
	res, err := newBatch(env).Run(context.Background(), BatchRequest{FolderPath: t.TempDir(), MaxFileSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Zero(t, res.Stats.FilesFound)
}

func TestBatch_UnsupportedFilesAreSkipped(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writePages(t, dir, "notes.txt", "readable")
	writeFile(t, dir, "table.csv", []byte("a,b\n"))

	res, err := newBatch(env).Run(context.Background(), BatchRequest{FolderPath: dir, MaxFileSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, SkipReasonUnsupported, outcomeByName(t, res, "table.csv").SkipReason)
}

func TestBatch_MixedOutcomesStillSucceed(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writePages(t, dir, "good.txt", "fine")
	writePages(t, dir, "bad.txt", failMarker)

	res, err := newBatch(env).Run(context.Background(), BatchRequest{FolderPath: dir, MaxFileSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 1, res.Stats.Failed)
}

func TestBatch_ConcurrentMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		writePages(t, dir, name+".txt", "content of "+name, "second page of "+name)
	}
	writePages(t, dir, "zz-copy.txt", "content of a", "second page of a")
	writePages(t, dir, "broken.txt", failMarker)
	writePages(t, dir, "sub/nested.txt", "nested file")

	run := func(workers int) *BatchResult {
		env := newTestEnv(t)
		res, err := newBatch(env).Run(context.Background(), BatchRequest{
			FolderPath:    dir,
			MaxFileSizeMB: 1,
			SkipExisting:  true,
			Recursive:     true,
			Workers:       workers,
		})
		require.NoError(t, err)
		return res
	}

	sequential := run(1)
	concurrent := run(4)

	assert.Equal(t, sequential.Stats, concurrent.Stats)
	assert.Equal(t, 10, sequential.Stats.FilesFound)
	assert.Equal(t, 8, sequential.Stats.Successful)
	assert.Equal(t, 1, sequential.Stats.Failed)
	assert.Equal(t, 1, sequential.Stats.Skipped)
	require.Len(t, concurrent.Files, len(sequential.Files))
	for i := range sequential.Files {
		assert.Equal(t, sequential.Files[i].Path, concurrent.Files[i].Path)
		assert.Equal(t, sequential.Files[i].Status, concurrent.Files[i].Status)
	}
	assert.Equal(t, SkipReasonDuplicate, outcomeByName(t, concurrent, "zz-copy.txt").SkipReason)
}

type cancellingProcessor struct {
	inner  DocumentProcessor
	after  int
	cancel context.CancelFunc

	mu    sync.Mutex
	calls int
}

func (p *cancellingProcessor) Process(ctx context.Context, req DocumentRequest) (*DocumentResult, error) {
	res, err := p.inner.Process(ctx, req)
	p.mu.Lock()
	p.calls++
	if p.calls == p.after {
		p.cancel()
	}
	p.mu.Unlock()
	return res, err
}

func TestBatch_CancellationStopsBeforeNextFile(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt"} {
		writePages(t, dir, name, "file "+name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &cancellingProcessor{inner: env.pipeline, after: 1, cancel: cancel}

	res, err := NewBatchPipeline(proc, env.store, extract.NewRegistry(), nil).
		Run(ctx, BatchRequest{FolderPath: dir, MaxFileSizeMB: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 3, res.Stats.Cancelled)
	assert.Equal(t, 1, res.Processed())
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, FileSucceeded, outcomeByName(t, res, "1.txt").Status)
	assert.Equal(t, 3, res.ToMap()["cancelled_files"])
}

func TestBatch_AlreadyCancelled(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writePages(t, dir, "x.txt", "never read")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newBatch(env).Run(ctx, BatchRequest{FolderPath: dir, MaxFileSizeMB: 1, Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Cancelled)
	assert.Zero(t, res.Processed())
	assert.Zero(t, env.embedder.calls)
}

func TestBatch_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	batch := newBatch(env)
	dir := t.TempDir()

	_, err := batch.Run(context.Background(), BatchRequest{FolderPath: dir, MaxFileSizeMB: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = batch.Run(context.Background(), BatchRequest{FolderPath: filepath.Join(dir, "nope"), MaxFileSizeMB: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	file := writePages(t, dir, "file.txt", "x")
	_, err = batch.Run(context.Background(), BatchRequest{FolderPath: file, MaxFileSizeMB: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", []byte("b"))
	writeFile(t, dir, "a.txt", []byte("a"))
	writeFile(t, dir, ".hidden.txt", []byte("h"))
	writeFile(t, dir, ".git/config", []byte("c"))
	writeFile(t, dir, "sub/c.txt", []byte("c"))
	writeFile(t, dir, "sub/deeper/d.txt", []byte("d"))

	flat, err := discoverFiles(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}, flat)

	all, err := discoverFiles(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "sub", "c.txt"),
		filepath.Join(dir, "sub", "deeper", "d.txt"),
	}, all)
}

func TestBatchStats_AddIsOrderIndependent(t *testing.T) {
	parts := []BatchStats{
		{FilesFound: 1, Successful: 1, PagesProcessed: 3, VectorsCreated: 5, ChunksSaved: 5},
		{FilesFound: 1, Failed: 1},
		{FilesFound: 1, Skipped: 1},
		{FilesFound: 1, Cancelled: 1},
	}
	var forward, backward BatchStats
	for i := range parts {
		forward = forward.Add(parts[i])
		backward = backward.Add(parts[len(parts)-1-i])
	}
	assert.Equal(t, forward, backward)
	assert.Equal(t, BatchStats{FilesFound: 4, Successful: 1, Failed: 1, Skipped: 1, Cancelled: 1, PagesProcessed: 3, VectorsCreated: 5, ChunksSaved: 5}, forward)
}
