package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docingest/internal/ai"
	"docingest/internal/lock"
	"docingest/internal/model"
	"docingest/internal/pkg/extract"
	"docingest/internal/pkg/filehash"
	"docingest/internal/repository"
	"docingest/internal/vectorstore"
	"docingest/internal/vision"
)

const defaultCollection = "documents"

type Extractor interface {
	Extract(ctx context.Context, path string, maxPages int) (*extract.Extraction, error)
}

type Archiver interface {
	Archive(ctx context.Context, key, path, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, event model.DocumentEvent) error
}

// DocumentPipeline ingests one file at a time: extract, chunk, describe,
// embed, upsert, persist.
type DocumentPipeline struct {
	store     *repository.Store
	extractor Extractor
	embedder  ai.Embedder
	vectors   vectorstore.Store

	describer  vision.Describer
	locker     lock.Locker
	archive    Archiver
	events     EventPublisher
	chunker    Chunker
	collection string
	workerName string
	logger     *slog.Logger
}

type Option func(*DocumentPipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *DocumentPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithDescriber(d vision.Describer) Option {
	return func(p *DocumentPipeline) {
		if d != nil {
			p.describer = d
		}
	}
}

func WithLocker(l lock.Locker) Option {
	return func(p *DocumentPipeline) {
		if l != nil {
			p.locker = l
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(p *DocumentPipeline) { p.archive = a }
}

func WithEventPublisher(e EventPublisher) Option {
	return func(p *DocumentPipeline) { p.events = e }
}

func WithChunker(c Chunker) Option {
	return func(p *DocumentPipeline) { p.chunker = NewChunker(c.Size, c.Overlap) }
}

func WithCollection(name string) Option {
	return func(p *DocumentPipeline) {
		if name != "" {
			p.collection = name
		}
	}
}

func WithWorkerName(name string) Option {
	return func(p *DocumentPipeline) { p.workerName = name }
}

func NewDocumentPipeline(
	store *repository.Store,
	extractor Extractor,
	embedder ai.Embedder,
	vectors vectorstore.Store,
	opts ...Option,
) *DocumentPipeline {
	p := &DocumentPipeline{
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		vectors:    vectors,
		describer:  vision.NewBasicDescriber(),
		locker:     lock.NewLocalLocker(),
		chunker:    NewChunker(defaultChunkSize, defaultChunkOverlap),
		collection: defaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "document-pipeline")
	return p
}

// DocumentRequest describes one file to ingest.
type DocumentRequest struct {
	Path string
	// MaxPages caps extracted pages; 0 means no ceiling.
	MaxPages            int
	SkipImageProcessing bool
	SkipIfHashExists    bool
	ProcessingConfig    map[string]any

	// ContentHash may be supplied by a caller that already hashed the file.
	ContentHash string

	DocumentName string
	UserID       string
	DocumentType model.DocumentType
	IsPublic     bool
	Permissions  []string
}

// ReprocessOptions controls a retry of a failed document.
type ReprocessOptions struct {
	MaxPages            int
	SkipImageProcessing bool
	ProcessingConfig    map[string]any
}

type runOptions struct {
	maxPages   int
	skipImages bool
}

// Process runs one ingestion attempt. The result is always populated; the
// error is non-nil only for invalid input or relational store failures.
func (p *DocumentPipeline) Process(ctx context.Context, req DocumentRequest) (*DocumentResult, error) {
	started := time.Now()
	result := &DocumentResult{Path: req.Path, ImagePaths: []string{}}
	defer func() { result.Duration = time.Since(started) }()

	if strings.TrimSpace(req.Path) == "" || req.MaxPages < 0 {
		err := fmt.Errorf("%w: path is required and max pages must be >= 0", ErrInvalidInput)
		result.fail(err)
		return result, err
	}
	path, err := filepath.Abs(req.Path)
	if err != nil {
		path = req.Path
	}
	logger := p.logger.With("path", path)

	info, statErr := os.Stat(path)
	if statErr == nil && !info.Mode().IsRegular() {
		statErr = fmt.Errorf("%s is not a regular file", path)
	}
	hash := req.ContentHash
	if statErr == nil && hash == "" {
		hash, statErr = filehash.File(path)
	}
	if statErr != nil {
		logger.Warn("source file cannot be opened", "err", statErr)
		return p.recordUnreadable(ctx, path, req, fmt.Errorf("%w: %v", extract.ErrUnreadableFile, statErr), result)
	}
	result.FileHash = hash

	if req.SkipIfHashExists {
		if skipped, err := p.skipExisting(ctx, hash, result); skipped || err != nil {
			return result, err
		}
	}

	release, err := p.locker.Acquire(ctx, contentLockKey(hash))
	if err != nil {
		logger.Warn("content lease unavailable", "hash", hash, "err", err)
		result.fail(fmt.Errorf("acquire content lease failed: %w", err))
		if errors.Is(err, lock.ErrLocked) {
			return result, nil
		}
		return result, err
	}
	defer release()

	if req.SkipIfHashExists {
		if skipped, err := p.skipExisting(ctx, hash, result); skipped || err != nil {
			return result, err
		}
	}

	doc := p.newDocument(path, info.Size(), hash, req)
	job := model.NewProcessingJob(uuid.NewString(), doc.DocumentID, model.JobTypeProcessDocument, p.workerName, time.Now())
	job.ProcessingConfig = maps.Clone(req.ProcessingConfig)
	job.AppendLog(job.StartedAt, "processing %s (hash %s)", doc.OriginalFilename, hash)

	writeCtx := context.WithoutCancel(ctx)
	err = p.store.Transaction(writeCtx, func(tx *repository.Store) error {
		if err := tx.Documents.Create(writeCtx, doc); err != nil {
			return err
		}
		return tx.Jobs.Create(writeCtx, job)
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return result, err
	}
	result.DocumentID = doc.DocumentID
	result.JobID = job.JobID
	logger.Info("document processing started", "document_id", doc.DocumentID, "job_id", job.JobID)

	return result, p.run(ctx, doc, job, runOptions{maxPages: req.MaxPages, skipImages: req.SkipImageProcessing}, result)
}

// Reprocess retries a failed document under a new reprocess job. Old chunks
// and their vectors are removed first.
func (p *DocumentPipeline) Reprocess(ctx context.Context, documentID string, opts ReprocessOptions) (*DocumentResult, error) {
	started := time.Now()
	result := &DocumentResult{DocumentID: documentID, ImagePaths: []string{}}
	defer func() { result.Duration = time.Since(started) }()

	doc, err := p.liveDocument(ctx, documentID)
	if err != nil {
		result.fail(err)
		return result, err
	}
	result.Path = doc.UploadPath
	if doc.Status != model.DocumentStatusFailed {
		err := fmt.Errorf("%w: %s is %s", ErrNotReprocessable, documentID, doc.Status)
		result.fail(err)
		return result, err
	}

	release, err := p.acquire(ctx, documentLockKey(doc.DocumentID), contentLockKey(doc.FileHash))
	if err != nil {
		result.fail(fmt.Errorf("acquire document lease failed: %w", err))
		if errors.Is(err, lock.ErrLocked) {
			return result, nil
		}
		return result, err
	}
	defer release()

	// the status may have moved while the lease was being taken
	if doc, err = p.liveDocument(ctx, documentID); err != nil {
		result.fail(err)
		return result, err
	}
	if doc.Status != model.DocumentStatusFailed {
		err := fmt.Errorf("%w: %s is %s", ErrNotReprocessable, documentID, doc.Status)
		result.fail(err)
		return result, err
	}

	if hash, err := filehash.File(doc.UploadPath); err == nil {
		doc.FileHash = hash
	}
	result.FileHash = doc.FileHash

	if err := p.removeVectors(ctx, doc); err != nil {
		result.fail(err)
		return result, nil
	}

	if err := doc.TransitionTo(model.DocumentStatusProcessing); err != nil {
		result.fail(err)
		return result, err
	}
	doc.ErrorMessage = ""
	doc.ProcessedPages = 0
	doc.VectorCount = 0
	doc.ProcessedAt = nil
	if opts.ProcessingConfig != nil {
		doc.ProcessingConfig = maps.Clone(opts.ProcessingConfig)
	}

	job := model.NewProcessingJob(uuid.NewString(), doc.DocumentID, model.JobTypeReprocess, p.workerName, time.Now())
	job.ProcessingConfig = maps.Clone(opts.ProcessingConfig)
	job.AppendLog(job.StartedAt, "reprocessing %s", doc.OriginalFilename)

	writeCtx := context.WithoutCancel(ctx)
	err = p.store.Transaction(writeCtx, func(tx *repository.Store) error {
		if err := tx.Chunks.DeleteByDocumentID(writeCtx, doc.DocumentID); err != nil {
			return err
		}
		if err := tx.Documents.Save(writeCtx, doc); err != nil {
			return err
		}
		return tx.Jobs.Create(writeCtx, job)
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return result, err
	}
	result.JobID = job.JobID
	p.logger.Info("document reprocessing started", "document_id", doc.DocumentID, "job_id", job.JobID)

	return result, p.run(ctx, doc, job, runOptions{maxPages: opts.MaxPages, skipImages: opts.SkipImageProcessing}, result)
}

// Delete soft-deletes a document and removes its chunks and their vectors.
// Jobs are kept for audit.
func (p *DocumentPipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.liveDocument(ctx, documentID)
	if err != nil {
		return err
	}

	release, err := p.acquire(ctx, documentLockKey(doc.DocumentID), contentLockKey(doc.FileHash))
	if err != nil {
		return fmt.Errorf("acquire document lease failed: %w", err)
	}
	defer release()

	if err := p.removeVectors(ctx, doc); err != nil {
		return err
	}
	err = p.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Chunks.DeleteByDocumentID(ctx, doc.DocumentID); err != nil {
			return err
		}
		return tx.Documents.SoftDelete(ctx, doc.DocumentID)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if _, archived := doc.Metadata["archive_location"]; archived && p.archive != nil {
		if err := p.archive.Remove(context.WithoutCancel(ctx), doc.FileKey); err != nil {
			p.logger.Warn("remove archived source failed", "document_id", doc.DocumentID, "err", err)
		}
	}
	p.logger.Info("document deleted", "document_id", doc.DocumentID)
	return nil
}

func (p *DocumentPipeline) liveDocument(ctx context.Context, documentID string) (*model.Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	doc, err := p.store.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if doc == nil || doc.IsDeleted {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return doc, nil
}

func (p *DocumentPipeline) skipExisting(ctx context.Context, hash string, result *DocumentResult) (bool, error) {
	existing, err := p.store.Documents.FindCompletedByHash(ctx, hash)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	result.Status = ResultSkipped
	result.DocumentID = existing.DocumentID
	result.TotalPages = existing.TotalPages
	p.logger.Info("skipping already ingested content", "path", result.Path, "document_id", existing.DocumentID)
	return true, nil
}

func (p *DocumentPipeline) acquire(ctx context.Context, keys ...string) (func(), error) {
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		release, err := p.locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func (p *DocumentPipeline) removeVectors(ctx context.Context, doc *model.Document) error {
	chunks, err := p.store.Chunks.ListByDocumentID(ctx, doc.DocumentID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.VectorID != "" {
			ids = append(ids, c.VectorID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	collection := doc.VectorCollection
	if collection == "" {
		collection = p.collection
	}
	if err := p.vectors.Delete(ctx, collection, ids); err != nil {
		return fmt.Errorf("delete document vectors failed: %w", err)
	}
	return nil
}

func (p *DocumentPipeline) newDocument(path string, size int64, hash string, req DocumentRequest) *model.Document {
	id := uuid.NewString()
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	name := strings.TrimSpace(req.DocumentName)
	if name == "" {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	mime, err := extract.DetectMIME(path)
	if err != nil {
		mime = "application/octet-stream"
	}

	doc := model.NewDocument(id, name, base, "documents/"+id+ext, size, mime, ext, path, req.UserID)
	doc.FileHash = hash
	doc.IsPublic = req.IsPublic
	doc.VectorCollection = p.collection
	doc.ProcessingConfig = maps.Clone(req.ProcessingConfig)
	if len(req.Permissions) > 0 {
		doc.SetPermissions(req.Permissions)
	}
	if req.DocumentType != "" {
		if err := doc.SetDocumentType(req.DocumentType); err != nil {
			p.logger.Warn("rejected document type", "document_id", id, "document_type", req.DocumentType, "err", err)
		}
	}
	return doc
}

// recordUnreadable stores a failed document and a failed job for a file that
// could not be opened at all.
func (p *DocumentPipeline) recordUnreadable(ctx context.Context, path string, req DocumentRequest, cause error, result *DocumentResult) (*DocumentResult, error) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	doc := p.newDocument(path, size, "", req)
	doc.FileType = "application/octet-stream"
	doc.ErrorMessage = cause.Error()
	now := time.Now()
	job := model.NewProcessingJob(uuid.NewString(), doc.DocumentID, model.JobTypeProcessDocument, p.workerName, now)
	job.ProcessingConfig = maps.Clone(req.ProcessingConfig)
	job.AppendLog(now, "cannot open source: %v", cause)

	if err := doc.TransitionTo(model.DocumentStatusFailed); err != nil {
		return result, err
	}
	if err := job.Finish(model.JobStatusFailed, cause.Error(), now); err != nil {
		return result, err
	}

	writeCtx := context.WithoutCancel(ctx)
	err := p.store.Transaction(writeCtx, func(tx *repository.Store) error {
		if err := tx.Documents.Create(writeCtx, doc); err != nil {
			return err
		}
		return tx.Jobs.Create(writeCtx, job)
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return result, err
	}
	result.DocumentID = doc.DocumentID
	result.JobID = job.JobID
	result.fail(cause)
	p.publish(writeCtx, doc, job)
	return result, nil
}

type pendingChunk struct {
	chunk *model.Chunk
	image *extract.Image
}

// run extracts, chunks and vectorizes doc under job, then finalizes both.
func (p *DocumentPipeline) run(ctx context.Context, doc *model.Document, job *model.ProcessingJob, opts runOptions, result *DocumentResult) error {
	logger := p.logger.With("document_id", doc.DocumentID, "job_id", job.JobID)
	writeCtx := context.WithoutCancel(ctx)

	extraction, err := p.extractor.Extract(ctx, doc.UploadPath, opts.maxPages)
	if err != nil {
		logger.Warn("extraction failed", "err", err)
		return p.abort(writeCtx, doc, job, err, result)
	}
	if len(extraction.Pages) == 0 {
		return p.abort(writeCtx, doc, job, fmt.Errorf("%w: %s", ErrNoPages, doc.OriginalFilename), result)
	}

	doc.TotalPages = len(extraction.Pages)
	doc.Author = extraction.Author
	doc.Subject = extraction.Subject
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["source_pages"] = extraction.SourcePages
	if extraction.Title != "" {
		doc.Metadata["title"] = extraction.Title
	}
	if extraction.SkippedImages > 0 {
		doc.Metadata["skipped_images"] = extraction.SkippedImages
		job.AppendLog(time.Now(), "skipped %d unreadable images", extraction.SkippedImages)
	}
	if extraction.MIMEType != "" {
		doc.FileType = extraction.MIMEType
	}
	result.TotalPages = doc.TotalPages
	job.AppendLog(time.Now(), "extracted %d of %d pages", len(extraction.Pages), extraction.SourcePages)

	if p.archive != nil {
		location, err := p.archive.Archive(ctx, doc.FileKey, doc.UploadPath, doc.FileType)
		if err != nil {
			logger.Warn("archive source failed", "err", err)
			job.AppendLog(time.Now(), "archive failed: %v", err)
		} else {
			doc.Metadata["archive_location"] = location
		}
	}

	pages := p.buildChunks(doc, extraction.Pages, opts.skipImages)
	total := 0
	for _, page := range pages {
		total += len(page)
		for _, pc := range page {
			if pc.image != nil {
				result.ImagePaths = append(result.ImagePaths, pc.image.Path)
			}
		}
	}
	if total == 0 {
		return p.abort(writeCtx, doc, job, fmt.Errorf("%w: %s", ErrNoContent, doc.OriginalFilename), result)
	}
	if err := job.SetTotalChunks(total); err != nil {
		return p.abort(writeCtx, doc, job, err, result)
	}
	result.TotalChunks = total

	err = p.store.Transaction(writeCtx, func(tx *repository.Store) error {
		if err := tx.Documents.Save(writeCtx, doc); err != nil {
			return err
		}
		return tx.Jobs.Save(writeCtx, job)
	})
	if err != nil {
		return p.storeFailure(writeCtx, doc, job, err, result)
	}

	var lastErr error
	for _, page := range pages {
		for _, pc := range page {
			if ctx.Err() != nil {
				logger.Info("processing cancelled", "processed_chunks", job.SuccessfulChunks+job.FailedChunks)
				return p.abort(writeCtx, doc, job, ctx.Err(), result)
			}

			chunkErr := p.vectorize(ctx, doc, pc)
			if chunkErr != nil {
				lastErr = chunkErr
				logger.Warn("chunk failed", "chunk_id", pc.chunk.ChunkID, "page", pc.chunk.PageNumber, "err", chunkErr)
				job.AppendLog(time.Now(), "chunk %s on page %d failed: %v", pc.chunk.ChunkID, pc.chunk.PageNumber, chunkErr)
			}
			if err := p.persistChunk(writeCtx, doc, job, pc.chunk, chunkErr == nil); err != nil {
				if chunkErr == nil {
					p.dropVector(writeCtx, doc, pc.chunk)
				}
				return p.storeFailure(writeCtx, doc, job, err, result)
			}
			if chunkErr == nil {
				result.EmbeddingModel = pc.chunk.EmbeddingModel
				result.EmbeddingDimension = pc.chunk.VectorDimension
			}
		}
		doc.RecordPageProcessed()
	}

	return p.finish(writeCtx, doc, job, lastErr, result)
}

func (p *DocumentPipeline) buildChunks(doc *model.Document, pages []extract.Page, skipImages bool) [][]pendingChunk {
	out := make([][]pendingChunk, 0, len(pages))
	for _, page := range pages {
		var pcs []pendingChunk
		spans := p.chunker.Split(page.Text)
		for _, span := range spans {
			pcs = append(pcs, pendingChunk{chunk: p.newChunk(doc, page.Number, model.ChunkTypeText, span, len(pcs))})
		}
		if !skipImages {
			for i := range page.Images {
				img := page.Images[i]
				kind := model.ChunkTypeImage
				content := ""
				if len(spans) > 0 {
					kind = model.ChunkTypeCombined
					content = spans[0]
				}
				c := p.newChunk(doc, page.Number, kind, content, len(pcs))
				c.ImagePath = img.Path
				c.Metadata["image_width"] = img.Width
				c.Metadata["image_height"] = img.Height
				pcs = append(pcs, pendingChunk{chunk: c, image: &img})
			}
		}
		out = append(out, pcs)
	}
	return out
}

func (p *DocumentPipeline) newChunk(doc *model.Document, page int, kind model.ChunkType, content string, index int) *model.Chunk {
	return &model.Chunk{
		ChunkID:    uuid.NewString(),
		DocumentID: doc.DocumentID,
		PageNumber: page,
		ChunkType:  kind,
		Content:    content,
		Metadata: map[string]any{
			"chunk_index": index,
			"source":      doc.OriginalFilename,
		},
	}
}

// vectorize describes, embeds and upserts one chunk.
func (p *DocumentPipeline) vectorize(ctx context.Context, doc *model.Document, pc pendingChunk) error {
	c := pc.chunk
	if pc.image != nil {
		desc, err := p.describer.Describe(ctx, pc.image.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrImageDescription, err)
		}
		c.ImageDescription = desc
	}
	c.CountText()

	text := c.EmbeddingText()
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: chunk has no text to embed", ai.ErrEmbedding)
	}
	emb, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed chunk failed: %w", err)
	}
	modelName := emb.Model
	if modelName == "" {
		modelName = p.embedder.Model()
	}

	vectorID, err := p.vectors.Upsert(ctx, doc.VectorCollection, c.ChunkID, emb.Vector, map[string]any{
		"document_id": doc.DocumentID,
		"chunk_id":    c.ChunkID,
		"page_number": c.PageNumber,
		"chunk_type":  string(c.ChunkType),
		"file_hash":   doc.FileHash,
		"source":      doc.OriginalFilename,
	})
	if err != nil {
		return fmt.Errorf("upsert vector failed: %w", err)
	}
	c.MarkVectorized(vectorID, modelName, emb.Dimension)
	if !c.IsVectorized() {
		orphan := vectorID
		if orphan == "" {
			orphan = c.ChunkID
		}
		if err := p.vectors.Delete(context.WithoutCancel(ctx), doc.VectorCollection, []string{orphan}); err != nil {
			p.logger.Warn("remove orphan vector failed", "vector_id", orphan, "err", err)
		}
		return fmt.Errorf("%w: no vector id or embedding model for chunk %s", ai.ErrEmbedding, c.ChunkID)
	}
	return nil
}

// persistChunk writes a vectorized chunk and the job counters in one session.
// On failure the in-memory job and document are restored.
func (p *DocumentPipeline) persistChunk(ctx context.Context, doc *model.Document, job *model.ProcessingJob, chunk *model.Chunk, ok bool) error {
	jobBefore, docBefore := *job, *doc
	if err := job.RecordChunk(ok); err != nil {
		return err
	}
	if ok {
		doc.VectorCount++
	}
	err := p.store.Transaction(ctx, func(tx *repository.Store) error {
		if ok {
			if err := tx.Chunks.Create(ctx, chunk); err != nil {
				return err
			}
			if err := tx.Documents.Save(ctx, doc); err != nil {
				return err
			}
		}
		return tx.Jobs.Save(ctx, job)
	})
	if err != nil {
		*job, *doc = jobBefore, docBefore
		return err
	}
	return nil
}

func (p *DocumentPipeline) dropVector(ctx context.Context, doc *model.Document, chunk *model.Chunk) {
	if err := p.vectors.Delete(ctx, doc.VectorCollection, []string{chunk.VectorID}); err != nil {
		p.logger.Warn("remove orphan vector failed", "vector_id", chunk.VectorID, "err", err)
	}
}

// finish applies the completion policy once every chunk has been attempted.
func (p *DocumentPipeline) finish(ctx context.Context, doc *model.Document, job *model.ProcessingJob, lastErr error, result *DocumentResult) error {
	now := time.Now()
	succeeded, failed := job.SuccessfulChunks, job.FailedChunks

	docStatus := model.DocumentStatusCompleted
	jobStatus := model.JobStatusCompleted
	switch {
	case failed == 0:
		doc.ErrorMessage = ""
	case succeeded > 0:
		doc.ErrorMessage = fmt.Sprintf("partial success: %d of %d chunks failed (last error: %v)", failed, job.TotalChunks, lastErr)
		result.Warning = doc.ErrorMessage
	default:
		docStatus = model.DocumentStatusFailed
		jobStatus = model.JobStatusFailed
		doc.ErrorMessage = fmt.Sprintf("all %d chunks failed: %v", failed, lastErr)
	}

	if err := doc.TransitionTo(docStatus); err != nil {
		return err
	}
	doc.ProcessedAt = &now
	jobErr := ""
	if docStatus == model.DocumentStatusFailed || result.Warning != "" {
		jobErr = doc.ErrorMessage
	}
	if err := job.Finish(jobStatus, jobErr, now); err != nil {
		return err
	}
	job.AppendLog(now, "finished %s: %d succeeded, %d failed", jobStatus, succeeded, failed)

	if err := p.saveFinal(ctx, doc, job); err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return err
	}

	result.fill(doc, job)
	if docStatus == model.DocumentStatusCompleted {
		result.Status = ResultSuccess
	} else {
		result.Status = ResultFailure
		result.Error = doc.ErrorMessage
		result.ErrorKind = classifyError(lastErr)
	}
	p.logger.Info("document processing finished",
		"document_id", doc.DocumentID, "status", doc.Status,
		"successful_chunks", succeeded, "failed_chunks", failed)
	p.publish(ctx, doc, job)
	return nil
}

// abort ends the attempt with a document-level failure. Cancellation ends the
// job as cancelled; anything else as failed.
func (p *DocumentPipeline) abort(ctx context.Context, doc *model.Document, job *model.ProcessingJob, cause error, result *DocumentResult) error {
	now := time.Now()
	jobStatus := model.JobStatusFailed
	if classifyError(cause) == ErrorKindCancelled {
		jobStatus = model.JobStatusCancelled
	}

	if err := doc.TransitionTo(model.DocumentStatusFailed); err != nil {
		return err
	}
	doc.ErrorMessage = cause.Error()
	if err := job.Finish(jobStatus, cause.Error(), now); err != nil {
		return err
	}
	job.AppendLog(now, "aborted: %v", cause)

	if err := p.saveFinal(ctx, doc, job); err != nil {
		err = fmt.Errorf("%w: %w", ErrStore, err)
		result.fail(err)
		return err
	}
	result.fill(doc, job)
	result.fail(cause)
	p.publish(ctx, doc, job)
	return nil
}

// storeFailure reports a relational error from a chunk or progress write and
// makes a best-effort attempt to leave the document failed.
func (p *DocumentPipeline) storeFailure(ctx context.Context, doc *model.Document, job *model.ProcessingJob, cause error, result *DocumentResult) error {
	err := fmt.Errorf("%w: %w", ErrStore, cause)
	p.logger.Error("relational store failure", "document_id", doc.DocumentID, "err", err)
	if abortErr := p.abort(ctx, doc, job, err, result); abortErr != nil {
		p.logger.Error("record failure state failed", "document_id", doc.DocumentID, "err", abortErr)
	}
	result.fail(err)
	return err
}

func (p *DocumentPipeline) saveFinal(ctx context.Context, doc *model.Document, job *model.ProcessingJob) error {
	return p.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Documents.Save(ctx, doc); err != nil {
			return err
		}
		return tx.Jobs.Save(ctx, job)
	})
}

func (p *DocumentPipeline) publish(ctx context.Context, doc *model.Document, job *model.ProcessingJob) {
	if p.events == nil {
		return
	}
	event := model.DocumentEvent{
		DocumentID:       doc.DocumentID,
		JobID:            job.JobID,
		JobType:          job.JobType,
		Status:           doc.Status,
		FileHash:         doc.FileHash,
		TotalChunks:      job.TotalChunks,
		SuccessfulChunks: job.SuccessfulChunks,
		FailedChunks:     job.FailedChunks,
		ErrorMessage:     doc.ErrorMessage,
		OccurredAt:       time.Now(),
	}
	if err := p.events.PublishDocumentEvent(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Warn("publish document event failed", "document_id", doc.DocumentID, "err", err)
	}
}

func contentLockKey(hash string) string {
	if hash == "" {
		return ""
	}
	return "hash:" + hash
}

func documentLockKey(id string) string {
	return "doc:" + id
}
