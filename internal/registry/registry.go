// Package registry provides module registries for input, filter, and output modules.
//
// # Overview
//
// Readers are registered by source format ("csv", "json", "jsonl"), row
// filters by name ("where", "script") and writers by export format ("csv").
// The factory resolves constructors here instead of switching on strings, so
// a new format is added by registering a constructor in an init() function:
//
//	func init() {
//	    registry.RegisterInput("tsv", func(path string, ds pipeline.DatasetConfig) (input.Module, error) {
//	        return input.NewCSVModule(path, "\t")
//	    })
//	}
//
// # Built-in Modules
//
// Built-in modules are registered automatically via init() in builtins.go.
package registry

import (
	"sort"
	"sync"

	"github.com/stagepipe/stagepipe/internal/modules/filter"
	"github.com/stagepipe/stagepipe/internal/modules/input"
	"github.com/stagepipe/stagepipe/internal/modules/output"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// InputConstructor creates a reader for the source file at path.
type InputConstructor func(path string, ds pipeline.DatasetConfig) (input.Module, error)

// FilterConstructor creates a row filter from a dataset configuration.
// It returns a nil module when the dataset does not configure the filter.
type FilterConstructor func(ds pipeline.DatasetConfig) (filter.Module, error)

// OutputConstructor creates a writer rooted at folder.
type OutputConstructor func(folder string) (output.Module, error)

// inputRegistry holds registered input module constructors.
var (
	inputMu       sync.RWMutex
	inputRegistry = make(map[string]InputConstructor)
)

// filterRegistry holds registered filter module constructors.
var (
	filterMu       sync.RWMutex
	filterRegistry = make(map[string]FilterConstructor)
)

// outputRegistry holds registered output module constructors.
var (
	outputMu       sync.RWMutex
	outputRegistry = make(map[string]OutputConstructor)
)

// RegisterInput registers a reader constructor by source format.
// Registering an existing format overwrites the previous constructor.
func RegisterInput(format string, constructor InputConstructor) {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputRegistry[format] = constructor
}

// RegisterFilter registers a row filter constructor by name.
func RegisterFilter(name string, constructor FilterConstructor) {
	filterMu.Lock()
	defer filterMu.Unlock()
	filterRegistry[name] = constructor
}

// RegisterOutput registers a writer constructor by export format.
func RegisterOutput(format string, constructor OutputConstructor) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputRegistry[format] = constructor
}

// GetInputConstructor returns the constructor for a source format, or nil.
func GetInputConstructor(format string) InputConstructor {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return inputRegistry[format]
}

// GetFilterConstructor returns the constructor for a row filter, or nil.
func GetFilterConstructor(name string) FilterConstructor {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return filterRegistry[name]
}

// GetOutputConstructor returns the constructor for an export format, or nil.
func GetOutputConstructor(format string) OutputConstructor {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return outputRegistry[format]
}

// ListInputTypes returns the registered source formats, sorted.
func ListInputTypes() []string {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return sortedKeys(inputRegistry)
}

// ListFilterTypes returns the registered row filter names, sorted.
func ListFilterTypes() []string {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return sortedKeys(filterRegistry)
}

// ListOutputTypes returns the registered export formats, sorted.
func ListOutputTypes() []string {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return sortedKeys(outputRegistry)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearRegistries removes all registered constructors.
// This is intended for testing purposes only.
func ClearRegistries() {
	inputMu.Lock()
	inputRegistry = make(map[string]InputConstructor)
	inputMu.Unlock()

	filterMu.Lock()
	filterRegistry = make(map[string]FilterConstructor)
	filterMu.Unlock()

	outputMu.Lock()
	outputRegistry = make(map[string]OutputConstructor)
	outputMu.Unlock()
}

// RegisterBuiltins registers the built-in modules. It is called from init()
// and again by tests after ClearRegistries.
func RegisterBuiltins() {
	registerBuiltinInputModules()
	registerBuiltinFilterModules()
	registerBuiltinOutputModules()
}
