// Package filter provides implementations for filter modules.
// Filter modules are pure table transforms: normalization, the date-window
// filter, the membership filter and the optional per-dataset row filters
// (where expressions and JavaScript transforms).
package filter

import (
	"context"
	"errors"

	"github.com/stagepipe/stagepipe/internal/table"
)

// Input errors shared by the transforms.
var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrInvalidWeeks is returned when a window is shorter than one week.
	ErrInvalidWeeks = errors.New("weeks must be at least 1")
	// ErrEmptyTable is returned when a maximum is required from an empty table.
	ErrEmptyTable = errors.New("table is empty")
	// ErrInvalidDate is returned when a date cell is null or not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
	// ErrNestedConflict is returned when a key holds a map in one row and a scalar in another.
	ErrNestedConflict = errors.New("nested value conflict")
	// ErrColumnCollision is returned when a flattened name is already taken.
	ErrColumnCollision = errors.New("column name collision")
)

// Module represents a filter module that transforms a table.
type Module interface {
	// Process returns the transformed table. The input is never modified.
	Process(ctx context.Context, t *table.Table) (*table.Table, error)
}

// Chain applies modules in order.
type Chain []Module

// Process runs every module, feeding each the previous output.
func (c Chain) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	var err error
	for _, m := range c {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		t, err = m.Process(ctx, t)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// toBool converts an expression result to a boolean.
func toBool(value any) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
