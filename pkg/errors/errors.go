// Package errors defines the error taxonomy shared by the index, the query
// pipeline and the administrative surface, plus an AppError wrapper that adds
// a caller-facing message to a sentinel.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Index layer. Recoverable by choosing another retrieval path.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidLanguage   = errors.New("invalid language")
	ErrEmptyIndex        = errors.New("index is empty")
	ErrNotFound          = errors.New("not found")
	ErrInvalidVector     = errors.New("invalid vector")

	// External providers. Trip breakers and degrade the query, never fatal.
	ErrProviderTimeout = errors.New("provider timed out")
	ErrProviderError   = errors.New("provider error")

	// Surface to callers.
	ErrPipelineFailed = errors.New("search unavailable")
	ErrInvalidInput   = errors.New("invalid input")
)

// Kind classifies an error for callers that need to branch on it without
// matching individual sentinels.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf maps err onto a Kind. nil maps to the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidLanguage),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidVector):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPipelineFailed),
		errors.Is(err, ErrProviderTimeout),
		errors.Is(err, ErrProviderError),
		errors.Is(err, ErrEmptyIndex):
		return KindUnavailable
	default:
		return KindInternal
	}
}
