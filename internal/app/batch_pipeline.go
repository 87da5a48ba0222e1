package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"docingest/internal/pkg/filehash"
	"docingest/internal/repository"
)

// DocumentProcessor is the single-document step the batch drives.
type DocumentProcessor interface {
	Process(ctx context.Context, req DocumentRequest) (*DocumentResult, error)
}

type FormatFilter interface {
	Supports(path string) bool
}

type BatchRequest struct {
	FolderPath          string
	MaxPages            int
	MaxFileSizeMB       float64
	SkipExisting        bool
	SkipImageProcessing bool
	Recursive           bool
	// Workers bounds concurrent files; values below 2 run sequentially.
	Workers          int
	ProcessingConfig map[string]any
	UserID           string
}

type FileStatus string

const (
	FileSucceeded FileStatus = "success"
	FileFailed    FileStatus = "failed"
	FileSkipped   FileStatus = "skipped"
	FileCancelled FileStatus = "cancelled"
)

const (
	SkipReasonTooLarge    = "file_too_large"
	SkipReasonUnsupported = "unsupported_format"
	SkipReasonDuplicate   = "duplicate_content"
)

type FileOutcome struct {
	Path       string
	Status     FileStatus
	SkipReason string
	Error      string
	Result     *DocumentResult
}

// BatchStats are additive, so per-file stats reduce by plain sum in any order.
type BatchStats struct {
	FilesFound     int
	Successful     int
	Failed         int
	Skipped        int
	Cancelled      int
	PagesProcessed int
	VectorsCreated int
	ChunksSaved    int
}

func (s BatchStats) Add(o BatchStats) BatchStats {
	return BatchStats{
		FilesFound:     s.FilesFound + o.FilesFound,
		Successful:     s.Successful + o.Successful,
		Failed:         s.Failed + o.Failed,
		Skipped:        s.Skipped + o.Skipped,
		Cancelled:      s.Cancelled + o.Cancelled,
		PagesProcessed: s.PagesProcessed + o.PagesProcessed,
		VectorsCreated: s.VectorsCreated + o.VectorsCreated,
		ChunksSaved:    s.ChunksSaved + o.ChunksSaved,
	}
}

func (o FileOutcome) stats() BatchStats {
	s := BatchStats{FilesFound: 1}
	switch o.Status {
	case FileSucceeded:
		s.Successful = 1
		if o.Result != nil {
			s.PagesProcessed = o.Result.TotalPages
			s.VectorsCreated = o.Result.VectorCount
			s.ChunksSaved = o.Result.SuccessfulChunks
		}
	case FileFailed:
		s.Failed = 1
	case FileSkipped:
		s.Skipped = 1
	case FileCancelled:
		s.Cancelled = 1
	}
	return s
}

type BatchResult struct {
	Status   string
	Stats    BatchStats
	Duration time.Duration
	Files    []FileOutcome
}

// Processed counts files that were attempted.
func (r *BatchResult) Processed() int {
	return r.Stats.Successful + r.Stats.Failed
}

func (r *BatchResult) ToMap() map[string]any {
	files := make([]map[string]any, 0, len(r.Files))
	for _, f := range r.Files {
		entry := map[string]any{"path": f.Path, "status": string(f.Status)}
		if f.SkipReason != "" {
			entry["skip_reason"] = f.SkipReason
		}
		if f.Error != "" {
			entry["error"] = f.Error
		}
		if f.Result != nil && f.Result.DocumentID != "" {
			entry["document_id"] = f.Result.DocumentID
		}
		files = append(files, entry)
	}
	return map[string]any{
		"status":                 r.Status,
		"total_files_found":      r.Stats.FilesFound,
		"total_files_processed":  r.Processed(),
		"successful_files":       r.Stats.Successful,
		"failed_files":           r.Stats.Failed,
		"skipped_files":          r.Stats.Skipped,
		"cancelled_files":        r.Stats.Cancelled,
		"total_duration_seconds": r.Duration.Seconds(),
		"detailed_stats": map[string]any{
			"total_pages_processed": r.Stats.PagesProcessed,
			"total_vectors_created": r.Stats.VectorsCreated,
			"total_chunks_saved":    r.Stats.ChunksSaved,
		},
		"files": files,
	}
}

// BatchPipeline runs the document pipeline over every eligible file in a folder.
type BatchPipeline struct {
	processor DocumentProcessor
	store     *repository.Store
	formats   FormatFilter
	logger    *slog.Logger
}

func NewBatchPipeline(processor DocumentProcessor, store *repository.Store, formats FormatFilter, logger *slog.Logger) *BatchPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchPipeline{
		processor: processor,
		store:     store,
		formats:   formats,
		logger:    logger.With("component", "batch-pipeline"),
	}
}

type candidate struct {
	index int
	path  string
	hash  string
}

// Run processes the folder. Cancelling ctx stops the batch before the next
// file; the file in flight runs to completion.
func (b *BatchPipeline) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	started := time.Now()
	if req.MaxFileSizeMB <= 0 {
		return nil, fmt.Errorf("%w: max file size must be > 0", ErrInvalidInput)
	}
	if req.MaxPages < 0 {
		return nil, fmt.Errorf("%w: max pages must be >= 0", ErrInvalidInput)
	}
	info, err := os.Stat(req.FolderPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a readable folder", ErrInvalidInput, req.FolderPath)
	}

	paths, err := discoverFiles(req.FolderPath, req.Recursive)
	if err != nil {
		return nil, fmt.Errorf("scan folder failed: %w", err)
	}
	b.logger.Info("batch started", "folder", req.FolderPath, "files", len(paths), "workers", req.Workers)

	outcomes := make([]FileOutcome, len(paths))
	groups := b.screen(ctx, req, paths, outcomes)

	if req.Workers > 1 && len(groups) > 1 {
		if err := b.runPool(ctx, req, groups, outcomes); err != nil {
			return nil, err
		}
	} else {
		for _, g := range groups {
			b.runGroup(ctx, req, g, outcomes)
		}
	}

	result := &BatchResult{Files: outcomes}
	for _, o := range outcomes {
		result.Stats = result.Stats.Add(o.stats())
	}
	result.Status = "success"
	if result.Stats.Successful == 0 && result.Stats.Failed > 0 {
		result.Status = "failed"
	}
	result.Duration = time.Since(started)

	b.logger.Info("batch finished",
		"status", result.Status,
		"found", result.Stats.FilesFound,
		"successful", result.Stats.Successful,
		"failed", result.Stats.Failed,
		"skipped", result.Stats.Skipped,
		"cancelled", result.Stats.Cancelled,
		"duration", result.Duration)
	return result, nil
}

// screen applies the skip rules and groups the remaining files by content
// hash so copies of one file are never ingested concurrently.
func (b *BatchPipeline) screen(ctx context.Context, req BatchRequest, paths []string, outcomes []FileOutcome) [][]candidate {
	maxBytes := int64(req.MaxFileSizeMB * 1024 * 1024)
	byHash := make(map[string]int)
	var groups [][]candidate

	for i, path := range paths {
		outcomes[i] = FileOutcome{Path: path}
		if ctx.Err() != nil {
			outcomes[i].Status = FileCancelled
			continue
		}

		info, err := os.Stat(path)
		if err == nil && info.Size() > maxBytes {
			outcomes[i].Status = FileSkipped
			outcomes[i].SkipReason = SkipReasonTooLarge
			continue
		}
		if b.formats != nil && !b.formats.Supports(path) {
			outcomes[i].Status = FileSkipped
			outcomes[i].SkipReason = SkipReasonUnsupported
			continue
		}

		// unreadable files keep an empty hash and fail inside the pipeline
		hash, _ := filehash.File(path)
		if hash != "" && req.SkipExisting {
			existing, err := b.store.Documents.FindCompletedByHash(ctx, hash)
			if err != nil {
				outcomes[i].Status = FileFailed
				outcomes[i].Error = fmt.Errorf("%w: %w", ErrStore, err).Error()
				continue
			}
			if existing != nil {
				outcomes[i].Status = FileSkipped
				outcomes[i].SkipReason = SkipReasonDuplicate
				continue
			}
		}

		c := candidate{index: i, path: path, hash: hash}
		if hash == "" {
			groups = append(groups, []candidate{c})
			continue
		}
		if g, ok := byHash[hash]; ok {
			groups[g] = append(groups[g], c)
			continue
		}
		byHash[hash] = len(groups)
		groups = append(groups, []candidate{c})
	}
	return groups
}

func (b *BatchPipeline) runPool(ctx context.Context, req BatchRequest, groups [][]candidate, outcomes []FileOutcome) error {
	pool, err := ants.NewPool(req.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool failed: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			b.runGroup(ctx, req, g, outcomes)
		}); err != nil {
			wg.Done()
			for _, c := range g {
				outcomes[c.index].Status = FileFailed
				outcomes[c.index].Error = fmt.Sprintf("submit to worker pool failed: %v", err)
			}
		}
	}
	wg.Wait()
	return nil
}

// runGroup processes files sharing one content hash in path order. Each
// goroutine writes only the outcome slots of its own group.
func (b *BatchPipeline) runGroup(ctx context.Context, req BatchRequest, group []candidate, outcomes []FileOutcome) {
	for _, c := range group {
		if ctx.Err() != nil {
			outcomes[c.index].Status = FileCancelled
			continue
		}

		res, err := b.processor.Process(context.WithoutCancel(ctx), DocumentRequest{
			Path:                c.path,
			MaxPages:            req.MaxPages,
			SkipImageProcessing: req.SkipImageProcessing,
			SkipIfHashExists:    req.SkipExisting,
			ProcessingConfig:    req.ProcessingConfig,
			ContentHash:         c.hash,
			UserID:              req.UserID,
		})
		outcome := &outcomes[c.index]
		outcome.Result = res

		switch {
		case res != nil && res.Status == ResultSkipped:
			outcome.Status = FileSkipped
			outcome.SkipReason = SkipReasonDuplicate
		case err == nil && res != nil && res.Status == ResultSuccess:
			outcome.Status = FileSucceeded
		default:
			outcome.Status = FileFailed
			switch {
			case err != nil:
				outcome.Error = err.Error()
			case res != nil:
				outcome.Error = res.Error
			}
			b.logger.Warn("file failed", "path", c.path, "err", outcome.Error)
		}
	}
}

// discoverFiles lists regular, non-hidden files under root in lexicographic order.
func discoverFiles(root string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
