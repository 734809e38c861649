// Package errors provides structured error types for the mnemo persistence
// layer. All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryEventLog   ErrorCategory = "EVENTLOG"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryIndex      ErrorCategory = "INDEX"
	ErrCategoryCompaction ErrorCategory = "COMPACTION"
	ErrCategoryState      ErrorCategory = "STATE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Event log codes
	CodeAppendFailed   = "APPEND_FAILED"
	CodeMalformedEvent = "MALFORMED_EVENT"
	CodeReadFailed     = "READ_FAILED"

	// Archive codes
	CodeCopyFailed    = "COPY_FAILED"
	CodeSummaryWrite  = "SUMMARY_WRITE_FAILED"
	CodeMirrorFailed  = "MIRROR_FAILED"
	CodeObjectMissing = "OBJECT_MISSING"

	// Index codes
	CodeIndexOpenFailed = "OPEN_FAILED"
	CodeIndexCorrupt    = "CORRUPTION_DETECTED"
	CodeRebuildFailed   = "REBUILD_FAILED"

	// Compaction codes
	CodeDeleteFailed  = "DELETE_FAILED"
	CodePeriodFailed  = "PERIOD_FAILED"
	CodeInvalidPeriod = "INVALID_PERIOD"

	// State codes
	CodeStateLoadFailed = "LOAD_FAILED"
	CodeStateSaveFailed = "SAVE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MnemoError is the structured error type used throughout the system.
type MnemoError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MnemoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MnemoError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MnemoError) Is(target error) bool {
	var t *MnemoError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MnemoError.
func New(category ErrorCategory, code, message string) *MnemoError {
	return &MnemoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MnemoError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MnemoError {
	return &MnemoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MnemoError) WithDetails(details map[string]interface{}) *MnemoError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MnemoError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MnemoError.
func GetCategory(err error) ErrorCategory {
	var me *MnemoError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MnemoError.
func GetCode(err error) string {
	var me *MnemoError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Archive copy and
// mirror failures resolve themselves on the next compaction run; everything
// else needs intervention or a rebuild.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryArchive && code == CodeCopyFailed:
		return true
	case category == ErrCategoryArchive && code == CodeSummaryWrite:
		return true
	case category == ErrCategoryArchive && code == CodeMirrorFailed:
		return true
	case category == ErrCategoryCompaction && code == CodeDeleteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewEventLogError(code, message string, cause error) *MnemoError {
	return Wrap(ErrCategoryEventLog, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *MnemoError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewIndexError(code, message string, cause error) *MnemoError {
	return Wrap(ErrCategoryIndex, code, message, cause)
}

func NewCompactionError(code, message string, cause error) *MnemoError {
	return Wrap(ErrCategoryCompaction, code, message, cause)
}

func NewStateError(code, message string, cause error) *MnemoError {
	return Wrap(ErrCategoryState, code, message, cause)
}

func NewInternalError(message string, cause error) *MnemoError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
