package model

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal status transition")

type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// documentTransitions lists every allowed move. completed is final; failed
// documents may be picked up again by a reprocess attempt.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusProcessing: {DocumentStatusCompleted, DocumentStatusFailed},
	DocumentStatusFailed:     {DocumentStatusProcessing},
	DocumentStatusCompleted:  nil,
}

func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return s == JobStatusRunning && next.IsTerminal()
}

type JobType string

const (
	JobTypeProcessDocument JobType = "process_document"
	JobTypeReprocess       JobType = "reprocess"
)

func illegalTransition(kind string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrIllegalTransition, kind, from, to)
}
