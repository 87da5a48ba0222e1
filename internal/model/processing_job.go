package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var ErrChunkCountExceeded = errors.New("chunk results exceed total chunks")

// ProcessingJob is the audit record of one processing attempt against a document.
// It references the document but is not owned by it.
type ProcessingJob struct {
	JobID      string `gorm:"primaryKey;size:64" json:"job_id"`
	DocumentID string `gorm:"size:50;not null;index" json:"document_id"`

	JobType   JobType   `gorm:"size:50;not null" json:"job_type"`
	JobStatus JobStatus `gorm:"size:50;not null;default:'running'" json:"job_status"`

	TotalChunks      int `gorm:"default:0" json:"total_chunks"`
	SuccessfulChunks int `gorm:"default:0" json:"successful_chunks"`
	FailedChunks     int `gorm:"default:0" json:"failed_chunks"`

	Logs         string `gorm:"type:text" json:"logs,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	WorkerName       string            `gorm:"size:255" json:"worker_name,omitempty"`
	ProcessingConfig datatypes.JSONMap `json:"processing_config,omitempty"`
}

func NewProcessingJob(id, documentID string, jobType JobType, workerName string, startedAt time.Time) *ProcessingJob {
	return &ProcessingJob{
		JobID:      id,
		DocumentID: documentID,
		JobType:    jobType,
		JobStatus:  JobStatusRunning,
		StartedAt:  startedAt,
		WorkerName: workerName,
	}
}

func (j *ProcessingJob) String() string {
	return fmt.Sprintf("ProcessingJob(id=%s, document=%s, status=%s)", j.JobID, j.DocumentID, j.JobStatus)
}

// SetTotalChunks fixes the number of chunks this attempt will process.
func (j *ProcessingJob) SetTotalChunks(total int) error {
	if total < j.SuccessfulChunks+j.FailedChunks {
		return fmt.Errorf("%w: total %d below recorded %d", ErrChunkCountExceeded, total, j.SuccessfulChunks+j.FailedChunks)
	}
	j.TotalChunks = total
	return nil
}

// RecordChunk tallies one chunk outcome.
func (j *ProcessingJob) RecordChunk(success bool) error {
	if j.JobStatus.IsTerminal() {
		return illegalTransition("job", j.JobStatus, "record chunk")
	}
	if j.SuccessfulChunks+j.FailedChunks >= j.TotalChunks {
		return fmt.Errorf("%w: total %d", ErrChunkCountExceeded, j.TotalChunks)
	}
	if success {
		j.SuccessfulChunks++
	} else {
		j.FailedChunks++
	}
	return nil
}

func (j *ProcessingJob) AppendLog(at time.Time, format string, args ...any) {
	line := at.UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	if j.Logs == "" {
		j.Logs = line
		return
	}
	j.Logs = strings.Join([]string{j.Logs, line}, "\n")
}

// Finish moves the job to a terminal status exactly once.
func (j *ProcessingJob) Finish(status JobStatus, errMsg string, at time.Time) error {
	if !j.JobStatus.CanTransitionTo(status) {
		return illegalTransition("job", j.JobStatus, status)
	}
	j.JobStatus = status
	j.ErrorMessage = errMsg
	completed := at
	j.CompletedAt = &completed
	j.DurationSeconds = int(at.Sub(j.StartedAt).Seconds())
	return nil
}
