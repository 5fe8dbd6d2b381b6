// Package config parses pipeline files (JSON or YAML), validates them
// against the embedded schema and the dataset references the schema cannot
// check, and converts them into pipeline.Config values.
package config

import (
	"fmt"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Configuration formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Parse error types
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)

// Validation error types added on top of the schema keywords.
const (
	ErrorTypeReference = "reference"
	ErrorTypeConvert   = "convert"
)

// ParseResult is the raw document read from one file.
type ParseResult struct {
	Data     map[string]any
	Errors   []ParseError
	FilePath string // empty when parsed from a string
	Format   string
}

// IsValid reports whether the document parsed.
func (r *ParseResult) IsValid() bool { return len(r.Errors) == 0 }

// ParseError locates a syntax or read failure. Line and Column are 1-based
// and zero when unknown.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Type    string
}

func (e ParseError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// ValidationResult is the outcome of schema validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError points at the offending value by JSON pointer, e.g.
// "/windows/3/0". Expected and Actual are shown with --verbose.
type ValidationError struct {
	Path     string
	Type     string
	Expected string
	Actual   string
	Message  string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Result combines parsing, validation and conversion of one file.
// Pipeline is set only when both error lists are empty.
type Result struct {
	Data             map[string]any
	Pipeline         *pipeline.Config
	ParseErrors      []ParseError
	ValidationErrors []ValidationError
	FilePath         string
	Format           string
}

// IsValid reports whether the file parsed and validated.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}
