package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a robolabel error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrDecodeFailed    ErrorCode = "DECODE_FAILED"    // 422
	ErrDownloadFailed  ErrorCode = "DOWNLOAD_FAILED"  // 502
	ErrInferenceFailed ErrorCode = "INFERENCE_FAILED" // 502
	ErrInternal        ErrorCode = "INTERNAL"         // 500
)

// AppError represents a structured error with code, status, and details.
type AppError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying error, if any. Not exposed to clients.
	cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.Is/As can see through an AppError.
func (e *AppError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing video or analysis.
func NewNotFound(kind, identifier string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewDownloadFailed creates a 502 error for a failed remote fetch.
// status is the upstream HTTP status, or 0 if no response was received.
func NewDownloadFailed(url string, status int, cause error) *AppError {
	msg := "failed to download video from url"
	details := map[string]any{"url": url}
	if status != 0 {
		msg = fmt.Sprintf("failed to download video from url: upstream status %d", status)
		details["upstream_status"] = status
	}
	return &AppError{
		Code:    ErrDownloadFailed,
		Status:  502,
		Message: msg,
		Details: details,
		cause:   cause,
	}
}

// NewDecodeFailed creates a 422 error when a video cannot be opened or read.
func NewDecodeFailed(path string, cause error) *AppError {
	msg := "video cannot be decoded"
	if cause != nil {
		msg = fmt.Sprintf("video cannot be decoded: %v", cause)
	}
	return &AppError{
		Code:    ErrDecodeFailed,
		Status:  422,
		Message: msg,
		Details: map[string]any{"path": path},
		cause:   cause,
	}
}

// NewInferenceFailed creates a 502 error when the labeling model call fails
// or returns unusable content. group is the 0-based index of the failing group.
func NewInferenceFailed(group int, startTime, endTime string, cause error) *AppError {
	msg := fmt.Sprintf("inference failed for group %d (%s-%s)", group, startTime, endTime)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &AppError{
		Code:    ErrInferenceFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"group": group, "start_time": startTime, "end_time": endTime},
		cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AppError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the first AppError in err's chain, or wraps err as INTERNAL.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}
