package output

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/pathutil"
	"github.com/stagepipe/stagepipe/internal/table"
)

// CSVExt is the extension of exported files.
const CSVExt = ".csv"

// CSVModule writes tables as {folder}/{dataset}.csv with a header row.
// Nulls are empty cells; maps are written as sorted JSON.
type CSVModule struct {
	folder    string
	delimiter rune
}

// NewCSVModule creates a CSV writer rooted at folder.
func NewCSVModule(folder string) (*CSVModule, error) {
	if err := pathutil.ValidateFilePath(folder); err != nil {
		return nil, fmt.Errorf("export folder: %w", err)
	}
	return &CSVModule{folder: folder, delimiter: ','}, nil
}

// Path returns the destination file of dataset.
func (m *CSVModule) Path(dataset string) (string, error) {
	return pathutil.JoinName(m.folder, dataset+CSVExt)
}

// Write implements Module. The file is written to a temp file and renamed.
func (m *CSVModule) Write(ctx context.Context, dataset string, t *table.Table) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%w: %s: table is nil", ErrExportFailed, dataset)
	}
	path, err := m.Path(dataset)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	if err := pathutil.EnsureDir(m.folder); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	tmp, err := os.CreateTemp(m.folder, "."+dataset+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %w", ErrExportFailed, err)
	}
	tempPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
	}

	bw := bufio.NewWriter(tmp)
	if err := m.encode(bw, t); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %s: %w", ErrExportFailed, dataset, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %s: %w", ErrExportFailed, dataset, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("%w: closing temp file: %w", ErrExportFailed, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("%w: renaming %s: %w", ErrExportFailed, path, err)
	}

	logger.Debug("csv export saved",
		slog.String("dataset", dataset),
		slog.String("path", path),
		slog.Int("rows", t.NumRows()),
	)
	return path, nil
}

func (m *CSVModule) encode(bw *bufio.Writer, t *table.Table) error {
	w := csv.NewWriter(bw)
	w.Comma = m.delimiter
	if err := w.Write(t.ColumnNames()); err != nil {
		return err
	}
	cols := t.Columns()
	row := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			cell, err := formatCell(c.Values[i])
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", c.Name, i, err)
			}
			row[j] = cell
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			s += ".0"
		}
		return s, nil
	case bool:
		return strconv.FormatBool(x), nil
	case map[string]any:
		b, err := oj.Marshal(x, &ojg.Options{Sort: true})
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

var _ Module = (*CSVModule)(nil)
