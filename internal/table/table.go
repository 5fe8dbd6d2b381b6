// Package table provides the in-memory columnar relation passed between
// pipeline steps.
//
// A Table is an ordered list of named columns of equal length. Every column
// has a single Kind; cells are nil (null) or a Go value of that kind:
// string, int64, float64, bool or map[string]any. Tables are treated as
// values: operations return new tables and never mutate their input.
package table

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors.
var (
	// ErrKindConflict is returned when a column mixes incompatible kinds.
	ErrKindConflict = errors.New("column kind conflict")
	// ErrDuplicateColumn is returned when two columns share a name.
	ErrDuplicateColumn = errors.New("duplicate column")
	// ErrLengthMismatch is returned when columns have different lengths.
	ErrLengthMismatch = errors.New("column length mismatch")
)

// Kind is the value type held by a column.
type Kind int

const (
	// KindString holds string cells. Columns with only nulls default to it.
	KindString Kind = iota
	// KindInt holds int64 cells.
	KindInt
	// KindFloat holds float64 cells.
	KindFloat
	// KindBool holds bool cells.
	KindBool
	// KindMap holds map[string]any cells (nested records before normalization).
	KindMap
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindMap:    "map",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Column is a named, typed sequence of cells.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// Len returns the number of cells.
func (c Column) Len() int { return len(c.Values) }

// NullCount returns the number of nil cells.
func (c Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	cols  []Column
	index map[string]int
	rows  int
}

// New builds a table from columns. Cell values are coerced to their canonical
// Go types and checked against the column kind.
func New(cols ...Column) (*Table, error) {
	t := &Table{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if i == 0 {
			t.rows = len(c.Values)
		} else if len(c.Values) != t.rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrLengthMismatch, c.Name, len(c.Values), t.rows)
		}
		values := make([]any, len(c.Values))
		for j, v := range c.Values {
			cv, err := Canonical(v)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", c.Name, j, err)
			}
			if cv != nil {
				k := KindOf(cv)
				switch {
				case k == c.Kind:
				case k == KindInt && c.Kind == KindFloat:
					cv = float64(cv.(int64))
				default:
					return nil, fmt.Errorf("%w: column %q is %s, row %d holds %s", ErrKindConflict, c.Name, c.Kind, j, k)
				}
			}
			values[j] = cv
		}
		t.index[c.Name] = len(t.cols)
		t.cols = append(t.cols, Column{Name: c.Name, Kind: c.Kind, Values: values})
	}
	return t, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(cols ...Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{index: map[string]int{}}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The returned slice must not be modified.
func (t *Table) Columns() []Column { return t.cols }

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// HasColumn reports whether the table has a column named name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// HasKind reports whether any column has kind k.
func (t *Table) HasKind(k Kind) bool {
	for _, c := range t.cols {
		if c.Kind == k {
			return true
		}
	}
	return false
}

// Row returns row i as a map. Null cells are omitted.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.cols))
	for _, c := range t.cols {
		if v := c.Values[i]; v != nil {
			row[c.Name] = v
		}
	}
	return row
}

// Records returns every row as a map.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, t.rows)
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

// Take returns a new table holding the rows at the given indices, in order.
func (t *Table) Take(indices []int) *Table {
	out := &Table{
		cols:  make([]Column, len(t.cols)),
		index: make(map[string]int, len(t.cols)),
		rows:  len(indices),
	}
	for ci, c := range t.cols {
		values := make([]any, len(indices))
		for j, idx := range indices {
			values[j] = c.Values[idx]
		}
		out.cols[ci] = Column{Name: c.Name, Kind: c.Kind, Values: values}
		out.index[c.Name] = ci
	}
	return out
}

// Summary describes the shape of a table.
type Summary struct {
	Rows       int
	Columns    []string
	NullCounts map[string]int
}

// Summary returns the row count, column names and per-column null counts.
func (t *Table) Summary() Summary {
	s := Summary{
		Rows:       t.rows,
		Columns:    t.ColumnNames(),
		NullCounts: make(map[string]int, len(t.cols)),
	}
	for _, c := range t.cols {
		s.NullCounts[c.Name] = c.NullCount()
	}
	return s
}

// Equal reports whether two tables have the same columns, kinds and cells.
func (t *Table) Equal(o *Table) bool {
	if t.rows != o.rows || len(t.cols) != len(o.cols) {
		return false
	}
	for i, c := range t.cols {
		oc := o.cols[i]
		if c.Name != oc.Name || c.Kind != oc.Kind {
			return false
		}
		for j := range c.Values {
			if !valuesEqual(c.Values[j], oc.Values[j]) {
				return false
			}
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok || bok {
		if !aok || !bok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return a == b
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
