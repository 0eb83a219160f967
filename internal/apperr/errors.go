// Package apperr defines the error taxonomy shared by the indexing, storage,
// and reorganisation layers. Every typed error maps to an HTTP status code and
// matches a sentinel via errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is implemented by errors that carry their own response status.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinels for errors.Is matching.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExtraction  = errors.New("extraction failed")
	ErrEmbedding   = errors.New("embedding failed")
	ErrPersistence = errors.New("persistence failed")
	ErrFilesystem  = errors.New("filesystem operation failed")
)

type (
	// ValidationError rejects bad input before any work starts.
	ValidationError struct {
		Message string
	}

	// NotFoundError reports a missing folder, file, or batch.
	NotFoundError struct {
		Resource string
		ID       any
	}

	// ConflictError reports a request that clashes with current state,
	// such as a second indexing run or a cyclic folder parent.
	ConflictError struct {
		Message string
	}
)

func (e *ValidationError) Error() string { return e.Message }
func (e *NotFoundError) Error() string   { return fmt.Sprintf("%s %v not found", e.Resource, e.ID) }
func (e *ConflictError) Error() string   { return e.Message }

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ConflictError) StatusCode() int   { return http.StatusConflict }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ConflictError) Is(target error) bool   { return target == ErrConflict }

// OpError wraps a lower-level failure with the taxonomy kind and the path or
// operation it concerns.
type OpError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() []error { return []error{e.Kind, e.Err} }

func (e *OpError) StatusCode() int {
	switch e.Kind {
	case ErrExtraction:
		return http.StatusUnprocessableEntity
	case ErrEmbedding:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(resource string, id any) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Conflict builds a ConflictError from a format string.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// Extraction wraps an extractor failure for path.
func Extraction(path string, err error) error {
	return &OpError{Kind: ErrExtraction, Op: "extracting", Path: path, Err: err}
}

// Embedding wraps an embedding provider failure.
func Embedding(op string, err error) error {
	return &OpError{Kind: ErrEmbedding, Op: op, Err: err}
}

// Persistence wraps a database failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: ErrPersistence, Op: op, Err: err}
}

// Filesystem wraps a move or mkdir failure for path.
func Filesystem(op, path string, err error) error {
	return &OpError{Kind: ErrFilesystem, Op: op, Path: path, Err: err}
}

// Status returns the HTTP status for err, defaulting to 500.
func Status(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
