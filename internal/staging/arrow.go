package staging

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/stagepipe/stagepipe/internal/table"
)

// arrowType returns the Arrow type of a column. Map columns become structs
// whose fields are the union of keys across all cells.
func arrowType(kind table.Kind, values []any) (arrow.DataType, error) {
	switch kind {
	case table.KindString:
		return arrow.BinaryTypes.String, nil
	case table.KindInt:
		return arrow.PrimitiveTypes.Int64, nil
	case table.KindFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case table.KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case table.KindMap:
		return structType(values)
	default:
		return nil, fmt.Errorf("no arrow type for %s", kind)
	}
}

func structType(cells []any) (arrow.DataType, error) {
	var keys []string
	seen := map[string]bool{}
	children := map[string][]any{}
	for _, cell := range cells {
		m, _ := cell.(map[string]any)
		for _, k := range table.SortedKeys(m) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		// Parquet has no empty groups: a map column without keys is stored
		// as an all-null string column.
		return arrow.BinaryTypes.String, nil
	}
	for _, k := range keys {
		vals := make([]any, len(cells))
		for i, cell := range cells {
			if m, ok := cell.(map[string]any); ok {
				vals[i] = m[k]
			}
		}
		children[k] = vals
	}

	fields := make([]arrow.Field, 0, len(keys))
	for _, k := range keys {
		kind, err := table.InferKind(children[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		dt, err := arrowType(kind, children[k])
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: k, Type: dt, Nullable: true})
	}
	return arrow.StructOf(fields...), nil
}

// schemaFor builds the Arrow schema of a table.
func schemaFor(t *table.Table) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, t.NumCols())
	for _, c := range t.Columns() {
		dt, err := arrowType(c.Kind, c.Values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// toRecord converts a table into a single Arrow record.
func toRecord(mem memory.Allocator, schema *arrow.Schema, t *table.Table) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, c := range t.Columns() {
		fb := b.Field(i)
		fb.Reserve(len(c.Values))
		for row, v := range c.Values {
			if err := appendValue(fb, v); err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", c.Name, row, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.StringBuilder:
		if m, isMap := v.(map[string]any); isMap && len(m) == 0 {
			fb.AppendNull()
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		fb.Append(s)
	case *array.Int64Builder:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		fb.Append(n)
	case *array.Float64Builder:
		switch n := v.(type) {
		case float64:
			fb.Append(n)
		case int64:
			fb.Append(float64(n))
		default:
			return fmt.Errorf("expected float64, got %T", v)
		}
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		fb.Append(bv)
	case *array.StructBuilder:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected map, got %T", v)
		}
		st := fb.Type().(*arrow.StructType)
		fb.Append(true)
		for i := 0; i < fb.NumField(); i++ {
			if err := appendValue(fb.FieldBuilder(i), m[st.Field(i).Name]); err != nil {
				return fmt.Errorf("key %q: %w", st.Field(i).Name, err)
			}
		}
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// fromArrow converts an Arrow table back into a table.Table.
func fromArrow(tbl arrow.Table) (*table.Table, error) {
	schema := tbl.Schema()
	cols := make([]table.Column, 0, int(tbl.NumCols()))
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := schema.Field(i)
		kind, err := kindOf(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		values := make([]any, 0, int(tbl.NumRows()))
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			for row := 0; row < chunk.Len(); row++ {
				v, err := arrayValue(chunk, row)
				if err != nil {
					return nil, fmt.Errorf("column %q: %w", field.Name, err)
				}
				values = append(values, v)
			}
		}
		cols = append(cols, table.Column{Name: field.Name, Kind: kind, Values: values})
	}
	return table.New(cols...)
}

func kindOf(dt arrow.DataType) (table.Kind, error) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return table.KindString, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		return table.KindInt, nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return table.KindFloat, nil
	case arrow.BOOL:
		return table.KindBool, nil
	case arrow.STRUCT:
		return table.KindMap, nil
	default:
		return table.KindString, fmt.Errorf("unsupported arrow type %s", dt)
	}
}

func arrayValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		m := make(map[string]any, a.NumField())
		for f := 0; f < a.NumField(); f++ {
			v, err := arrayValue(a.Field(f), i)
			if err != nil {
				return nil, err
			}
			if v != nil {
				m[st.Field(f).Name] = v
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported arrow array %T", arr)
	}
}
