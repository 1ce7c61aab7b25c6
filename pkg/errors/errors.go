package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStatsUnavailable means the statistics source could not be loaded at
	// all; no selection can be served until a snapshot loads.
	ErrStatsUnavailable = errors.New("shard statistics unavailable")
	// ErrNoConvergence means the threshold solver exhausted its iteration
	// budget. The caller decides the fallback (query all shards, or retry
	// with a relaxed tolerance); it is never silently swallowed.
	ErrNoConvergence    = errors.New("threshold solver did not converge")
	ErrInvalidInput     = errors.New("invalid input")
	ErrShardUnavailable = errors.New("shard unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoConvergence),
		errors.Is(err, ErrStatsUnavailable),
		errors.Is(err, ErrShardUnavailable),
		errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
