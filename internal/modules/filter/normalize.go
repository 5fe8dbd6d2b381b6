package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagepipe/stagepipe/internal/table"
)

// DefaultSeparator joins the key path of a flattened column.
const DefaultSeparator = "_"

// pathID joins key paths internally; it cannot appear in JSON keys read
// from text sources.
const pathID = "\x00"

type pathState int

const (
	pathNull pathState = iota
	pathLeaf
	pathMap
)

// Normalize flattens map columns so that key path a.b becomes column a<sep>b.
//
// A map column is replaced in place by its flattened columns, which follow
// first-seen order across rows (keys of one map are visited in lexical
// order). Keys missing from a row are null. Rows are neither dropped nor
// reordered. A table without map columns is returned unchanged.
func Normalize(t *table.Table, sep string) (*table.Table, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	if !t.HasKind(table.KindMap) {
		return t, nil
	}

	var cols []table.Column
	for _, c := range t.Columns() {
		if c.Kind != table.KindMap {
			cols = append(cols, c)
			continue
		}
		flat, err := flattenColumn(c, sep)
		if err != nil {
			return nil, err
		}
		cols = append(cols, flat...)
	}

	taken := make(map[string]bool, len(cols))
	for _, c := range cols {
		if taken[c.Name] {
			return nil, fmt.Errorf("%w: %q", ErrColumnCollision, c.Name)
		}
		taken[c.Name] = true
	}

	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func flattenColumn(c table.Column, sep string) ([]table.Column, error) {
	states := map[string]pathState{}
	paths := map[string][]string{}
	var order []string

	var walk func(prefix []string, m map[string]any) error
	walk = func(prefix []string, m map[string]any) error {
		for _, k := range table.SortedKeys(m) {
			p := append(prefix[:len(prefix):len(prefix)], k)
			id := strings.Join(p, pathID)
			st, seen := states[id]
			if !seen {
				order = append(order, id)
				paths[id] = p
				states[id] = pathNull
			}
			switch v := m[k].(type) {
			case nil:
			case map[string]any:
				if st == pathLeaf {
					return fmt.Errorf("%w: %q holds both a map and a scalar", ErrNestedConflict, strings.Join(p, "."))
				}
				states[id] = pathMap
				if err := walk(p, v); err != nil {
					return err
				}
			default:
				if st == pathMap {
					return fmt.Errorf("%w: %q holds both a map and a scalar", ErrNestedConflict, strings.Join(p, "."))
				}
				states[id] = pathLeaf
			}
		}
		return nil
	}

	root := []string{c.Name}
	for _, cell := range c.Values {
		m, ok := cell.(map[string]any)
		if !ok {
			continue
		}
		if err := walk(root, m); err != nil {
			return nil, err
		}
	}

	var out []table.Column
	for _, id := range order {
		if states[id] == pathMap {
			continue
		}
		p := paths[id]
		values := make([]any, len(c.Values))
		for i, cell := range c.Values {
			values[i] = lookup(cell, p[1:])
		}
		kind, err := table.InferKind(values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", strings.Join(p, sep), err)
		}
		out = append(out, table.Column{Name: strings.Join(p, sep), Kind: kind, Values: values})
	}
	return out, nil
}

func lookup(cell any, keys []string) any {
	cur := cell
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	if _, nested := cur.(map[string]any); nested {
		return nil
	}
	return cur
}

// NormalizeModule wraps Normalize as a filter module.
type NormalizeModule struct {
	Separator string
}

// Process implements Module.
func (m NormalizeModule) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Normalize(t, m.Separator)
}

var _ Module = NormalizeModule{}
