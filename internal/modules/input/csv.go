package input

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/table"
)

// CSVModule reads a delimited file with a header row.
//
// Empty cells are null. Each column gets the narrowest kind all of its
// non-empty cells parse as: int, then float, then bool, otherwise string.
type CSVModule struct {
	path      string
	delimiter rune
}

// NewCSVModule creates a CSV reader for path. An empty delimiter means ",".
func NewCSVModule(path, delimiter string) (*CSVModule, error) {
	d := ','
	if delimiter != "" {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) || r == utf8.RuneError {
			return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
		}
		d = r
	}
	return &CSVModule{path: path, delimiter: d}, nil
}

// Read loads the whole file.
func (m *CSVModule) Read(ctx context.Context) (*table.Table, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, m.path)
		}
		return nil, fmt.Errorf("opening %s: %w", m.path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.Comma = m.delimiter

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return table.Empty(), nil
		}
		return nil, fmt.Errorf("%w: %s: header: %w", ErrMalformedSource, m.path, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	raw := make([][]string, len(header))
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSource, m.path, err)
		}
		for i := range header {
			raw[i] = append(raw[i], rec[i])
		}
	}

	cols := make([]table.Column, len(header))
	for i, name := range header {
		cols[i] = typedColumn(name, raw[i])
	}
	t, err := table.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSource, m.path, err)
	}

	logger.Debug("csv source read",
		slog.String("path", m.path),
		slog.Int("rows", t.NumRows()),
		slog.Int("columns", t.NumCols()),
	)
	return t, nil
}

// Close releases resources (no-op for files read eagerly).
func (m *CSVModule) Close() error {
	return nil
}

// typedColumn infers the kind of a column of raw CSV cells.
func typedColumn(name string, cells []string) table.Column {
	empty := true
	for _, c := range cells {
		if c != "" {
			empty = false
			break
		}
	}
	if empty {
		return table.Column{Name: name, Kind: table.KindString, Values: make([]any, len(cells))}
	}

	kinds := []struct {
		kind  table.Kind
		parse func(string) (any, bool)
	}{
		{table.KindInt, parseInt},
		{table.KindFloat, parseFloat},
		{table.KindBool, parseBool},
	}
	for _, k := range kinds {
		if values, ok := convertAll(cells, k.parse); ok {
			return table.Column{Name: name, Kind: k.kind, Values: values}
		}
	}
	values, _ := convertAll(cells, func(s string) (any, bool) { return s, true })
	return table.Column{Name: name, Kind: table.KindString, Values: values}
}

func convertAll(cells []string, parse func(string) (any, bool)) ([]any, bool) {
	values := make([]any, len(cells))
	for i, c := range cells {
		if c == "" {
			continue
		}
		v, ok := parse(c)
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func parseInt(s string) (any, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func parseFloat(s string) (any, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseBool(s string) (any, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return nil, false
}

var _ Module = (*CSVModule)(nil)
