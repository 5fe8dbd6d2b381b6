package table

import "fmt"

// FromRecords builds a table from row maps.
//
// Column order is the names in order first (whether or not any record holds
// them), followed by the remaining keys in first-seen order, where the keys
// of a single record are visited in lexical order. A key missing from a
// record is null in that row.
func FromRecords(records []map[string]any, order []string) (*Table, error) {
	names := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, rec := range records {
		for _, k := range SortedKeys(rec) {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}

	cols := make([]Column, len(names))
	for ci, name := range names {
		values := make([]any, len(records))
		for ri, rec := range records {
			v, err := Canonical(rec[name])
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, ri, err)
			}
			values[ri] = v
		}
		kind, err := InferKind(values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		cols[ci] = Column{Name: name, Kind: kind, Values: values}
	}
	return New(cols...)
}
