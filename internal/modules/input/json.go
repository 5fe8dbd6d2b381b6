package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ohler55/ojg/oj"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/table"
)

// maxLineSize bounds a single JSON-lines record.
const maxLineSize = 16 * 1024 * 1024

// JSONModule reads JSON records. A file whose first non-blank byte is '['
// is parsed as an array of objects; anything else is read as JSON lines,
// one object per non-blank line.
//
// JSON objects have no key order, so columns come out in lexical key order.
// Nested objects stay nested (map columns) until the normalize step.
type JSONModule struct {
	path  string
	lines bool
}

// NewJSONModule creates a reader that detects array or lines layout.
func NewJSONModule(path string) *JSONModule {
	return &JSONModule{path: path}
}

// NewJSONLinesModule creates a reader that always treats path as JSON lines.
func NewJSONLinesModule(path string) *JSONModule {
	return &JSONModule{path: path, lines: true}
}

// Read loads the whole file.
func (m *JSONModule) Read(ctx context.Context) (*table.Table, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, m.path)
		}
		return nil, fmt.Errorf("reading %s: %w", m.path, err)
	}

	var records []map[string]any
	trimmed := bytes.TrimSpace(data)
	if !m.lines && len(trimmed) > 0 && trimmed[0] == '[' {
		records, err = parseArray(trimmed)
	} else {
		records, err = parseLines(ctx, data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSource, m.path, err)
	}

	t, err := table.FromRecords(records, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSource, m.path, err)
	}

	logger.Debug("json source read",
		slog.String("path", m.path),
		slog.Int("rows", t.NumRows()),
		slog.Int("columns", t.NumCols()),
	)
	return t, nil
}

// Close releases resources (no-op for files read eagerly).
func (m *JSONModule) Close() error {
	return nil
}

func parseArray(data []byte) ([]map[string]any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of objects, got %T", v)
	}
	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d: expected an object, got %T", i, item)
		}
		records = append(records, obj)
	}
	return records, nil
}

func parseLines(ctx context.Context, data []byte) ([]map[string]any, error) {
	var records []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for line := 1; sc.Scan(); line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		v, err := oj.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("line %d: expected an object, got %T", line, v)
		}
		records = append(records, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

var _ Module = (*JSONModule)(nil)
