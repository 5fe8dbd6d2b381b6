// Package errhandling provides error types and classification utilities.
// This file defines error categories, classification functions, and helper
// constructors used at the orchestrator boundary.
//
// Every category is fatal for the current run: a stagepipe run never retries.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryInput represents problems with the data itself (missing column,
	// unparsable date, empty table where a maximum is required).
	CategoryInput ErrorCategory = "input"

	// CategoryIO represents filesystem and codec failures (missing source or
	// staged file, unwritable destination folder, corrupt artifact).
	CategoryIO ErrorCategory = "io"

	// CategoryConfiguration represents a run asking for something that does not
	// exist (unknown step, unknown dataset, artifact never written).
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryCanceled represents a run interrupted through its context.
	CategoryCanceled ErrorCategory = "canceled"

	// CategoryUnknown represents unclassified errors.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Code is a stable machine-readable code (e.g. MISSING_COLUMN).
	Code string

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s]: %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// Rule maps a sentinel error to a category and code.
type Rule struct {
	Sentinel error
	Category ErrorCategory
	Code     string
}

// Classifier classifies errors against an ordered list of sentinel rules.
// The first rule whose sentinel matches with errors.Is wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier from the given rules.
func NewClassifier(rules ...Rule) *Classifier {
	c := &Classifier{rules: make([]Rule, len(rules))}
	copy(c.rules, rules)
	return c
}

// Classify returns a ClassifiedError for err, or nil if err is nil.
// Errors that are already classified are returned as is.
func (c *Classifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	for _, r := range c.rules {
		if errors.Is(err, r.Sentinel) {
			return &ClassifiedError{
				Category:    r.Category,
				Code:        r.Code,
				Message:     err.Error(),
				OriginalErr: err,
			}
		}
	}
	return ClassifyError(err)
}

// ClassifyError classifies errors that need no domain knowledge:
// context cancellation and filesystem errors. Anything else is unknown.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Category:    CategoryCanceled,
			Code:        "CANCELED",
			Message:     err.Error(),
			OriginalErr: err,
		}
	}

	if errors.Is(err, fs.ErrNotExist) {
		return NewIOError("FILE_NOT_FOUND", err.Error(), err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return NewIOError("PERMISSION_DENIED", err.Error(), err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return NewIOError("IO_ERROR", err.Error(), err)
	}

	return &ClassifiedError{
		Category:    CategoryUnknown,
		Code:        "UNKNOWN",
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// IsFatal reports whether err must abort the run.
// Every non-nil error is fatal: there is no retry in a stagepipe run.
func IsFatal(err error) bool {
	return err != nil
}

// IsRetryable always returns false; kept so callers can express intent.
func IsRetryable(error) bool {
	return false
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil or unclassified errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryUnknown
}

// GetErrorCode returns the code of a classified error, or "" otherwise.
func GetErrorCode(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Code
	}
	return ""
}

// NewInputError creates a ClassifiedError for input errors.
func NewInputError(code, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryInput,
		Code:        code,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewIOError creates a ClassifiedError for I/O errors.
func NewIOError(code, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryIO,
		Code:        code,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewConfigurationError creates a ClassifiedError for configuration errors.
func NewConfigurationError(code, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryConfiguration,
		Code:        code,
		Message:     message,
		OriginalErr: originalErr,
	}
}
