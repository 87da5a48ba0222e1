package model

import "time"

// DocumentEvent is published after a processing attempt ends.
type DocumentEvent struct {
	DocumentID       string         `json:"document_id"`
	JobID            string         `json:"job_id"`
	JobType          JobType        `json:"job_type"`
	Status           DocumentStatus `json:"status"`
	FileHash         string         `json:"file_hash"`
	TotalChunks      int            `json:"total_chunks"`
	SuccessfulChunks int            `json:"successful_chunks"`
	FailedChunks     int            `json:"failed_chunks"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
}

// IngestRequest is the work-queue payload asking a worker to ingest one file.
type IngestRequest struct {
	Path                string         `json:"path"`
	DocumentID          string         `json:"document_id,omitempty"`
	Reprocess           bool           `json:"reprocess,omitempty"`
	MaxPages            int            `json:"max_pages,omitempty"`
	SkipImageProcessing bool           `json:"skip_image_processing,omitempty"`
	SkipIfHashExists    bool           `json:"skip_if_hash_exists,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	DocumentType        DocumentType   `json:"document_type,omitempty"`
	IsPublic            bool           `json:"is_public,omitempty"`
	Permissions         []string       `json:"permissions,omitempty"`
	ProcessingConfig    map[string]any `json:"processing_config,omitempty"`
}
