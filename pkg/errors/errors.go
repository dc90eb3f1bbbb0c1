// Package errors defines the sentinel errors shared by the matching engine and
// an AppError wrapper that carries a human-readable message and an HTTP status
// for the match service.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidConfig covers everything that must abort a run before any
	// transaction is scheduled: a missing comparator, an empty corpus or a
	// mismatch budget that cannot be represented.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrSkippableInput marks a corpus entry or transaction that is empty,
	// missing or malformed. Processing continues with the next entry.
	ErrSkippableInput = errors.New("skippable input")
	// ErrTaskFailure marks an unexpected failure inside one match task.
	ErrTaskFailure = errors.New("match task failed")
	ErrNotReady    = errors.New("index not ready")
	ErrInternal    = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Config returns an ErrInvalidConfig AppError.
func Config(format string, args ...any) *AppError {
	return Newf(ErrInvalidConfig, http.StatusBadRequest, format, args...)
}

// Skippable returns an ErrSkippableInput AppError.
func Skippable(format string, args ...any) *AppError {
	return Newf(ErrSkippableInput, http.StatusUnprocessableEntity, format, args...)
}

// IsSkippable reports whether err should only be counted, never propagated.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrSkippableInput)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrSkippableInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
