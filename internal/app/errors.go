package app

import (
	"context"
	"errors"

	"docingest/internal/ai"
	"docingest/internal/lock"
	"docingest/internal/pkg/extract"
	"docingest/internal/vectorstore"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoPages          = errors.New("no processable pages")
	ErrNoContent        = errors.New("no processable content")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotReprocessable = errors.New("document is not reprocessable")
	ErrImageDescription = errors.New("image description failed")
	ErrStore            = errors.New("relational store failure")
)

// ErrorKind is the machine-checkable category reported next to an error message.
type ErrorKind string

const (
	ErrorKindUnreadableFile         ErrorKind = "unreadable_file"
	ErrorKindUnsupportedFormat      ErrorKind = "unsupported_format"
	ErrorKindNoPages                ErrorKind = "no_pages"
	ErrorKindNoContent              ErrorKind = "no_content"
	ErrorKindEmbedding              ErrorKind = "embedding_error"
	ErrorKindImageDescription       ErrorKind = "image_description_error"
	ErrorKindVectorStoreUnavailable ErrorKind = "vector_store_unavailable"
	ErrorKindStore                  ErrorKind = "store_error"
	ErrorKindCancelled              ErrorKind = "cancelled"
	ErrorKindDocumentBusy           ErrorKind = "document_busy"
	ErrorKindInvalidInput           ErrorKind = "invalid_input"
)

func classifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, extract.ErrUnreadableFile):
		return ErrorKindUnreadableFile
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return ErrorKindUnsupportedFormat
	case errors.Is(err, ErrNoPages):
		return ErrorKindNoPages
	case errors.Is(err, ErrNoContent):
		return ErrorKindNoContent
	case errors.Is(err, ai.ErrEmbedding):
		return ErrorKindEmbedding
	case errors.Is(err, ErrImageDescription):
		return ErrorKindImageDescription
	case errors.Is(err, vectorstore.ErrVectorStoreUnavailable):
		return ErrorKindVectorStoreUnavailable
	case errors.Is(err, lock.ErrLocked):
		return ErrorKindDocumentBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCancelled
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalidInput
	default:
		return ErrorKindStore
	}
}
