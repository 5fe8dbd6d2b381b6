package filter

import (
	"context"
	"fmt"

	"github.com/stagepipe/stagepipe/internal/table"
)

// ValueSet is a set of cell values compared by canonical key, so int64(5)
// and float64(5) are the same member. Nulls are never members.
type ValueSet struct {
	keys map[string]struct{}
}

// NewValueSet builds a set from values; duplicates collapse.
func NewValueSet(values []any) ValueSet {
	s := ValueSet{keys: make(map[string]struct{}, len(values))}
	for _, v := range values {
		if k, ok := table.Key(v); ok {
			s.keys[k] = struct{}{}
		}
	}
	return s
}

// Contains reports whether v is a member.
func (s ValueSet) Contains(v any) bool {
	k, ok := table.Key(v)
	if !ok {
		return false
	}
	_, found := s.keys[k]
	return found
}

// Len returns the number of distinct members.
func (s ValueSet) Len() int { return len(s.keys) }

// ColumnValues returns every value of column, duplicates and nulls included.
func ColumnValues(t *table.Table, column string) ([]any, error) {
	c, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}
	out := make([]any, len(c.Values))
	copy(out, c.Values)
	return out, nil
}

// FilterByValues keeps the rows whose column value is in allowed, in order.
func FilterByValues(t *table.Table, column string, allowed []any) (*table.Table, error) {
	return FilterBySet(t, column, NewValueSet(allowed))
}

// FilterBySet is FilterByValues with a prebuilt set.
func FilterBySet(t *table.Table, column string, set ValueSet) (*table.Table, error) {
	c, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}
	keep := make([]int, 0, len(c.Values))
	for i, v := range c.Values {
		if set.Contains(v) {
			keep = append(keep, i)
		}
	}
	return t.Take(keep), nil
}

// MembershipModule wraps FilterBySet as a filter module.
type MembershipModule struct {
	Column  string
	Allowed ValueSet
}

// Process implements Module.
func (m MembershipModule) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FilterBySet(t, m.Column, m.Allowed)
}

var _ Module = MembershipModule{}
