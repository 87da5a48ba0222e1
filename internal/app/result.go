package app

import (
	"time"

	"docingest/internal/model"
)

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultSkipped ResultStatus = "skipped"
)

// DocumentResult is the outcome of one pipeline attempt. A completed document
// with failed chunks is a success with a Warning.
type DocumentResult struct {
	Status     ResultStatus
	Path       string
	DocumentID string
	JobID      string
	FileHash   string

	TotalPages       int
	TotalChunks      int
	SuccessfulChunks int
	FailedChunks     int
	VectorCount      int
	ImagePaths       []string

	EmbeddingModel     string
	EmbeddingDimension int

	Warning   string
	Error     string
	ErrorKind ErrorKind
	Duration  time.Duration
}

func (r *DocumentResult) fail(err error) {
	r.Status = ResultFailure
	r.Error = err.Error()
	r.ErrorKind = classifyError(err)
}

func (r *DocumentResult) fill(doc *model.Document, job *model.ProcessingJob) {
	r.DocumentID = doc.DocumentID
	r.JobID = job.JobID
	r.TotalPages = doc.TotalPages
	r.TotalChunks = job.TotalChunks
	r.SuccessfulChunks = job.SuccessfulChunks
	r.FailedChunks = job.FailedChunks
	r.VectorCount = doc.VectorCount
}

// ToMap renders the result under the keys reported by the command line.
func (r *DocumentResult) ToMap() map[string]any {
	imagePaths := r.ImagePaths
	if imagePaths == nil {
		imagePaths = []string{}
	}
	m := map[string]any{
		"status":      string(r.Status),
		"path":        r.Path,
		"document_id": r.DocumentID,
		"job_id":      r.JobID,
		"text_extraction": map[string]any{
			"total_pages": r.TotalPages,
		},
		"image_capture": map[string]any{
			"image_paths": imagePaths,
		},
		"vector_database": map[string]any{
			"total_documents":     r.VectorCount,
			"embedding_model":     r.EmbeddingModel,
			"embedding_dimension": r.EmbeddingDimension,
		},
		"chunks": map[string]any{
			"total":      r.TotalChunks,
			"successful": r.SuccessfulChunks,
			"failed":     r.FailedChunks,
		},
		"duration_seconds": r.Duration.Seconds(),
	}
	if r.Warning != "" {
		m["warning"] = r.Warning
	}
	if r.Error != "" {
		m["error"] = r.Error
		m["error_kind"] = string(r.ErrorKind)
	}
	return m
}
