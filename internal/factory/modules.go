// Package factory provides module creation functions for the pipeline runtime.
// It centralizes the logic for instantiating input, filter, and output modules
// from their configuration using the module registry.
//
// To add a new format or row filter, see the documentation in
// internal/registry. This factory does not need to change.
package factory

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/stagepipe/stagepipe/internal/modules/filter"
	"github.com/stagepipe/stagepipe/internal/modules/input"
	"github.com/stagepipe/stagepipe/internal/modules/output"
	"github.com/stagepipe/stagepipe/internal/pathutil"
	"github.com/stagepipe/stagepipe/internal/registry"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

var (
	// ErrUnknownFormat is returned when no module is registered for a format.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrInvalidModuleConfig is returned when a module cannot be built from its configuration.
	ErrInvalidModuleConfig = errors.New("invalid module configuration")
)

// SourcePath returns the source file of a dataset under the external folder.
func SourcePath(externalFolder string, ds pipeline.DatasetConfig) (string, error) {
	if err := pathutil.ValidateFilePath(ds.Source); err != nil {
		return "", fmt.Errorf("source %q: %w", ds.Source, err)
	}
	if filepath.IsAbs(ds.Source) {
		return ds.Source, nil
	}
	return filepath.Join(externalFolder, ds.Source), nil
}

// CreateInputModule creates the reader of a dataset from its source format.
func CreateInputModule(externalFolder, dataset string, ds pipeline.DatasetConfig) (input.Module, error) {
	constructor := registry.GetInputConstructor(ds.Format)
	if constructor == nil {
		return nil, fmt.Errorf("%w: dataset %s has source format %q (known: %v)",
			ErrUnknownFormat, dataset, ds.Format, registry.ListInputTypes())
	}
	path, err := SourcePath(externalFolder, ds)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrInvalidModuleConfig, dataset, err)
	}
	m, err := constructor(path, ds)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrInvalidModuleConfig, dataset, err)
	}
	return m, nil
}

// CreateRowFilters creates the optional row filters of a dataset in
// registry.RowFilterOrder. An empty chain is returned when none is configured.
func CreateRowFilters(dataset string, ds pipeline.DatasetConfig) (filter.Chain, error) {
	var chain filter.Chain
	for _, name := range registry.RowFilterOrder {
		constructor := registry.GetFilterConstructor(name)
		if constructor == nil {
			continue
		}
		m, err := constructor(ds)
		if err != nil {
			return nil, fmt.Errorf("%w: dataset %s %s filter: %w", ErrInvalidModuleConfig, dataset, name, err)
		}
		if m != nil {
			chain = append(chain, m)
		}
	}
	return chain, nil
}

// CreateOutputModule creates the writer for an export format rooted at folder.
func CreateOutputModule(format, folder string) (output.Module, error) {
	constructor := registry.GetOutputConstructor(format)
	if constructor == nil {
		return nil, fmt.Errorf("%w: export format %q (known: %v)", ErrUnknownFormat, format, registry.ListOutputTypes())
	}
	m, err := constructor(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModuleConfig, err)
	}
	return m, nil
}
