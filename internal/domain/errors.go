package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTransientService = "TRANSIENT_SERVICE_ERROR"
	ErrCodePermanentService = "PERMANENT_SERVICE_ERROR"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeCitationAnomaly  = "CITATION_ANOMALY"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery              = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrEmptyDocumentContent    = NewDomainError(ErrCodeValidation, "document content cannot be empty")
	ErrInvalidChunkingStrategy = NewDomainError(ErrCodeValidation, "unknown chunking strategy")
	ErrInvalidTopK             = NewDomainError(ErrCodeValidation, "k must be between 1 and 10")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrQueryNotFound    = NewDomainError(ErrCodeNotFound, "query record not found")
)

// Service errors
var (
	ErrStoreUnavailable  = NewDomainError(ErrCodeStoreUnavailable, "vector store unreachable")
	ErrRetriesExhausted  = NewDomainError(ErrCodePermanentService, "retries exhausted")
	ErrEmbeddingFailed   = NewDomainError(ErrCodePermanentService, "embedding service failure")
	ErrCompletionFailed  = NewDomainError(ErrCodePermanentService, "completion service failure")
	ErrCompletionTimeout = NewDomainError(ErrCodePermanentService, "completion timed out")
)

// NewTransientError wraps an error from an external service that is worth
// retrying (timeouts, 5xx-class responses).
func NewTransientError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeTransientService, message, err)
}

// NewPermanentError wraps an error from an external service that must not be
// retried (authentication failures, client errors).
func NewPermanentError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodePermanentService, message, err)
}

// IsTransient reports whether err is a retryable service error.
func IsTransient(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == ErrCodeTransientService
	}
	return false
}

// IsUnavailable reports whether the error chain contains a vector store
// unavailability failure, at any depth.
func IsUnavailable(err error) bool {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == ErrCodeStoreUnavailable {
			return true
		}
		err = de.Err
	}
	return false
}
