// Package errors provides error code definitions for the sync pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Queue errors
	ErrQueueFull    ErrorCode = "QUEUE_FULL"
	ErrQueueStopped ErrorCode = "QUEUE_STOPPED"

	// Write pipeline errors
	ErrWriteFailed      ErrorCode = "WRITE_FAILED"
	ErrStoreUnreachable ErrorCode = "STORE_UNREACHABLE"

	// Durable queue errors
	ErrReplayFailed  ErrorCode = "REPLAY_FAILED"
	ErrDurableStore  ErrorCode = "DURABLE_STORE_ERROR"
	ErrDurableSchema ErrorCode = "DURABLE_SCHEMA_ERROR"

	// Bulk sync errors
	ErrBatchFileFailed ErrorCode = "BATCH_FILE_FAILED"
	ErrBulkAborted     ErrorCode = "BULK_ABORTED"

	// Vault errors
	ErrVaultReadFailed ErrorCode = "VAULT_READ_FAILED"
	ErrVaultMetadata   ErrorCode = "VAULT_METADATA_ERROR"

	// Watcher errors
	ErrWatchFailed ErrorCode = "WATCH_FAILED"

	// Configuration errors
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error (or any error it wraps) carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error chain.
// Returns ErrInternal for non-AppError errors.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// As finds the first error in the chain matching target. It re-exports the
// standard library helper so callers need only one errors import.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
