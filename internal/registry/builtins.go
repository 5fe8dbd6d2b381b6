package registry

import (
	"github.com/stagepipe/stagepipe/internal/modules/filter"
	"github.com/stagepipe/stagepipe/internal/modules/input"
	"github.com/stagepipe/stagepipe/internal/modules/output"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Source and export formats
const (
	FormatCSV       = "csv"
	FormatJSON      = "json"
	FormatJSONLines = "jsonl"
)

// Row filter names, in the order they are applied.
const (
	FilterWhere  = "where"
	FilterScript = "script"
)

// RowFilterOrder is the order in which row filters run after normalization.
var RowFilterOrder = []string{FilterWhere, FilterScript}

func init() {
	RegisterBuiltins()
}

// registerBuiltinInputModules registers all built-in input module types.
func registerBuiltinInputModules() {
	RegisterInput(FormatCSV, func(path string, ds pipeline.DatasetConfig) (input.Module, error) {
		return input.NewCSVModule(path, ds.Delimiter)
	})
	// json auto-detects a top-level array, falling back to one object per line
	RegisterInput(FormatJSON, func(path string, _ pipeline.DatasetConfig) (input.Module, error) {
		return input.NewJSONModule(path), nil
	})
	RegisterInput(FormatJSONLines, func(path string, _ pipeline.DatasetConfig) (input.Module, error) {
		return input.NewJSONLinesModule(path), nil
	})
}

// registerBuiltinFilterModules registers all built-in filter module types.
func registerBuiltinFilterModules() {
	RegisterFilter(FilterWhere, func(ds pipeline.DatasetConfig) (filter.Module, error) {
		if ds.Where == "" {
			return nil, nil
		}
		return filter.NewWhereModule(ds.Where)
	})
	RegisterFilter(FilterScript, func(ds pipeline.DatasetConfig) (filter.Module, error) {
		if ds.Script == "" && ds.ScriptFile == "" {
			return nil, nil
		}
		return filter.NewScriptModule(filter.ScriptConfig{Script: ds.Script, ScriptFile: ds.ScriptFile})
	})
}

// registerBuiltinOutputModules registers all built-in output module types.
func registerBuiltinOutputModules() {
	RegisterOutput(FormatCSV, func(folder string) (output.Module, error) {
		return output.NewCSVModule(folder)
	})
}
