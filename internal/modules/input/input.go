// Package input provides implementations for input modules.
// Input modules read raw source files from the external folder into tables.
package input

import (
	"context"
	"errors"

	"github.com/stagepipe/stagepipe/internal/table"
)

// Common errors
var (
	// ErrSourceNotFound is returned when the source file does not exist.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrMalformedSource is returned when a source file cannot be parsed.
	ErrMalformedSource = errors.New("malformed source file")
)

// Module represents an input module that reads a source into a table.
type Module interface {
	// Read loads the whole source.
	// The context can be used to cancel long-running reads.
	Read(ctx context.Context) (*table.Table, error)
	// Close releases any resources held by the module.
	Close() error
}
