// Package staging provides the filesystem-addressed artifact repository.
// Every artifact is a table identified by (dataset, stage) and persisted as a
// gzip-compressed Parquet file at {folder}/{stage_code}{dataset}.parquet.gzip.
//
// Writes go to a temp file in the destination folder and are renamed into
// place, so readers never observe a partially written artifact.
package staging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/pathutil"
	"github.com/stagepipe/stagepipe/internal/stage"
	"github.com/stagepipe/stagepipe/internal/table"
)

// Common errors
var (
	// ErrArtifactNotFound is returned when reading an artifact that was never written.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrNilTable is returned when writing a nil table.
	ErrNilTable = errors.New("table is nil")

	// ErrCorruptArtifact is returned when an artifact cannot be decoded.
	ErrCorruptArtifact = errors.New("corrupt artifact")

	// ErrWriteFailed is returned when an artifact cannot be encoded or stored.
	ErrWriteFailed = errors.New("artifact write failed")
)

// Artifact describes a persisted table.
type Artifact struct {
	Dataset string
	Stage   stage.Stage
	Path    string
	Rows    int
	Columns int
}

// Store reads and writes stage artifacts.
type Store struct {
	mem memory.Allocator
	mu  sync.RWMutex
}

// NewStore creates a store using the Go allocator.
func NewStore() *Store {
	return &Store{mem: memory.NewGoAllocator()}
}

// Path returns the artifact path of a dataset at a stage under folder.
func (s *Store) Path(folder string, st stage.Stage, dataset string) (string, error) {
	return pathutil.JoinName(folder, st.FileName(dataset))
}

// Exists reports whether the artifact has been written.
func (s *Store) Exists(folder string, st stage.Stage, dataset string) bool {
	path, err := s.Path(folder, st, dataset)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Write persists t as the artifact of dataset at stage st under folder.
// An existing artifact is replaced.
func (s *Store) Write(ctx context.Context, t *table.Table, folder string, st stage.Stage, dataset string) (Artifact, error) {
	if t == nil {
		return Artifact{}, ErrNilTable
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	path, err := s.Path(folder, st, dataset)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %s: %w", st.ArtifactName(dataset), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := pathutil.EnsureDir(folder); err != nil {
		logger.Warn("failed to create staging folder",
			"path", folder,
			"error", err.Error(),
		)
		return Artifact{}, err
	}

	tmp, err := os.CreateTemp(folder, "."+st.ArtifactName(dataset)+"-*.tmp")
	if err != nil {
		return Artifact{}, fmt.Errorf("creating temp artifact: %w", err)
	}
	tempPath := tmp.Name()

	if err := s.encode(tmp, t); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		logger.Warn("failed to encode artifact",
			"dataset", dataset,
			"stage_code", st.Code(),
			"error", err.Error(),
		)
		return Artifact{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return Artifact{}, fmt.Errorf("syncing temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return Artifact{}, fmt.Errorf("closing temp artifact: %w", err)
	}

	// Rename temp file to final path (atomic on POSIX)
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		logger.Warn("failed to rename artifact",
			"temp_path", tempPath,
			"final_path", path,
			"error", err.Error(),
		)
		return Artifact{}, fmt.Errorf("renaming artifact: %w", err)
	}

	logger.Debug("artifact saved",
		"dataset", dataset,
		"stage_code", st.Code(),
		"path", path,
		"rows", t.NumRows(),
	)

	return Artifact{Dataset: dataset, Stage: st, Path: path, Rows: t.NumRows(), Columns: t.NumCols()}, nil
}

// encode writes t as gzip Parquet. The writer is buffered so the Parquet
// writer never closes the underlying file.
func (s *Store) encode(f *os.File, t *table.Table) error {
	schema, err := schemaFor(t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	rec, err := toRecord(s.mem, schema, t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer rec.Release()

	bw := bufio.NewWriter(f)
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Gzip))
	fw, err := pqarrow.NewFileWriter(schema, bw, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Read loads the artifact of dataset at stage st under folder.
// Returns ErrArtifactNotFound if it was never written.
func (s *Store) Read(ctx context.Context, folder string, st stage.Stage, dataset string) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(folder, st, dataset)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", st.ArtifactName(dataset), err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("artifact not found",
				"dataset", dataset,
				"stage_code", st.Code(),
				"path", path,
			)
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(s.mem), pqarrow.ArrowReadProperties{}, s.mem)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArtifact, path, err)
	}
	defer tbl.Release()

	t, err := fromArrow(tbl)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArtifact, path, err)
	}
	return t, nil
}

// List returns the artifacts present in folder, sorted by stage then dataset.
// Files that do not follow the artifact naming convention are ignored.
func (s *Store) List(folder string) ([]Artifact, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", folder, err)
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stage.ArtifactExt) {
			continue
		}
		if st, dataset, ok := ParseFileName(e.Name()); ok {
			out = append(out, Artifact{Dataset: dataset, Stage: st, Path: filepath.Join(folder, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage.Ordinal != out[j].Stage.Ordinal {
			return out[i].Stage.Ordinal < out[j].Stage.Ordinal
		}
		return out[i].Dataset < out[j].Dataset
	})
	return out, nil
}

// ParseFileName splits an artifact file name into its stage and dataset.
func ParseFileName(name string) (stage.Stage, string, bool) {
	base, ok := strings.CutSuffix(name, stage.ArtifactExt)
	if !ok || base == "" || strings.HasPrefix(base, ".") {
		return stage.Stage{}, "", false
	}
	for _, st := range stage.All() {
		code := st.Code()
		if code == "" {
			continue
		}
		if dataset, found := strings.CutPrefix(base, code); found && dataset != "" {
			return st, dataset, true
		}
	}
	return stage.Raw, base, true
}
