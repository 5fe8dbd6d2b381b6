package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/stagepipe/stagepipe/internal/table"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// dateColumnCandidates are tried in order by ResolveDateColumn.
var dateColumnCandidates = []string{"day", "pay_date"}

// ResolveDateColumn returns "day" if the table has it, else "pay_date".
func ResolveDateColumn(t *table.Table) (string, error) {
	for _, name := range dateColumnCandidates {
		if t.HasColumn(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: none of %v", ErrMissingColumn, dateColumnCandidates)
}

// FilterLastWeeks keeps the rows whose date lies in
// [max - 7*weeks days, max], where max is the latest date in the column.
// Both bounds are inclusive and row order is preserved.
func FilterLastWeeks(t *table.Table, dateColumn string, weeks int) (*table.Table, error) {
	if weeks < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWeeks, weeks)
	}
	col, ok := t.Column(dateColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, dateColumn)
	}
	if t.NumRows() == 0 {
		return nil, fmt.Errorf("%w: cannot compute max of %q", ErrEmptyTable, dateColumn)
	}

	dates := make([]time.Time, len(col.Values))
	var maxDate time.Time
	for i, v := range col.Values {
		d, err := parseDate(v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q row %d: %w", ErrInvalidDate, dateColumn, i, err)
		}
		dates[i] = d
		if i == 0 || d.After(maxDate) {
			maxDate = d
		}
	}

	cutoff := maxDate.AddDate(0, 0, -7*weeks)
	keep := make([]int, 0, len(dates))
	for i, d := range dates {
		if !d.Before(cutoff) && !d.After(maxDate) {
			keep = append(keep, i)
		}
	}
	return t.Take(keep), nil
}

func parseDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return time.Time{}, fmt.Errorf("null date")
		}
		return time.Time{}, fmt.Errorf("expected a %s string, got %T", DateLayout, v)
	}
	return time.Parse(DateLayout, s)
}

// WindowModule wraps FilterLastWeeks as a filter module. An empty Column
// is resolved with ResolveDateColumn.
type WindowModule struct {
	Column string
	Weeks  int
}

// Process implements Module.
func (m WindowModule) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	column := m.Column
	if column == "" {
		var err error
		if column, err = ResolveDateColumn(t); err != nil {
			return nil, err
		}
	}
	return FilterLastWeeks(t, column, m.Weeks)
}

var _ Module = WindowModule{}
