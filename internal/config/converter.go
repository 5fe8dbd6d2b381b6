package config

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Defaults applied by ConvertToPipeline.
const (
	DefaultExternalFolder  = "data/external"
	DefaultRawFolder       = "data/raw"
	DefaultStagingFolder   = "data/staging"
	DefaultProcessedFolder = "data/processed"
	DefaultCatalog         = "data/catalog.db"
	DefaultSeparator       = "_"
	DefaultExportStage     = "narrowed"
)

// ConvertToPipeline converts parsed configuration data to a pipeline.Config.
// The input data should have been validated against the schema before calling
// this function.
//
// Missing folders, catalog, separator and export stage get their defaults.
// An explicit empty catalog disables the run ledger. Normalize defaults to
// every dataset and Steps to every transform step.
func ConvertToPipeline(data map[string]any) (*pipeline.Config, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}

	cfg := &pipeline.Config{}
	var ok bool
	if cfg.Name, ok = data["name"].(string); !ok {
		return nil, fmt.Errorf("missing required field 'name'")
	}
	cfg.Description, _ = data["description"].(string)

	folders, _ := data["folders"].(map[string]any)
	cfg.Folders = pipeline.Folders{
		External:  stringOr(folders, "external", DefaultExternalFolder),
		Raw:       stringOr(folders, "raw", DefaultRawFolder),
		Staging:   stringOr(folders, "staging", DefaultStagingFolder),
		Processed: stringOr(folders, "processed", DefaultProcessedFolder),
	}
	cfg.Catalog = stringOr(data, "catalog", DefaultCatalog)

	datasets, ok := data["datasets"].(map[string]any)
	if !ok || len(datasets) == 0 {
		return nil, fmt.Errorf("missing or invalid 'datasets' section")
	}
	cfg.Datasets = make(map[string]pipeline.DatasetConfig, len(datasets))
	for name, raw := range datasets {
		dsData, isMap := raw.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("invalid dataset %q", name)
		}
		ds, err := convertDataset(dsData)
		if err != nil {
			return nil, fmt.Errorf("invalid dataset %q: %w", name, err)
		}
		cfg.Datasets[name] = ds
		cfg.DatasetOrder = append(cfg.DatasetOrder, name)
	}
	sort.Strings(cfg.DatasetOrder)

	normalize, _ := data["normalize"].(map[string]any)
	cfg.Normalize.Separator = stringOr(normalize, "separator", DefaultSeparator)
	if list, present := normalize["datasets"]; present {
		names, err := stringList(list)
		if err != nil {
			return nil, fmt.Errorf("invalid 'normalize.datasets': %w", err)
		}
		cfg.Normalize.Datasets = names
	} else {
		cfg.Normalize.Datasets = append([]string(nil), cfg.DatasetOrder...)
	}

	windows, err := convertWindows(data["windows"])
	if err != nil {
		return nil, err
	}
	cfg.Windows = windows

	if membership, present := data["membership"].(map[string]any); present {
		m, err := convertMembership(membership)
		if err != nil {
			return nil, fmt.Errorf("invalid 'membership': %w", err)
		}
		cfg.Membership = m
	}

	export, _ := data["export"].(map[string]any)
	cfg.Export.Enabled, _ = export["enabled"].(bool)
	cfg.Export.Stage = stringOr(export, "stage", DefaultExportStage)
	if list, present := export["datasets"]; present {
		if cfg.Export.Datasets, err = stringList(list); err != nil {
			return nil, fmt.Errorf("invalid 'export.datasets': %w", err)
		}
	}

	if list, present := data["steps"]; present {
		if cfg.Steps, err = stringList(list); err != nil {
			return nil, fmt.Errorf("invalid 'steps': %w", err)
		}
	} else {
		cfg.Steps = defaultSteps(cfg)
	}

	return cfg, nil
}

func convertDataset(data map[string]any) (pipeline.DatasetConfig, error) {
	ds := pipeline.DatasetConfig{}
	var ok bool
	if ds.Source, ok = data["source"].(string); !ok {
		return ds, fmt.Errorf("missing required field 'source'")
	}
	if ds.Format, ok = data["format"].(string); !ok {
		return ds, fmt.Errorf("missing required field 'format'")
	}
	ds.Delimiter, _ = data["delimiter"].(string)
	ds.DateColumn, _ = data["dateColumn"].(string)
	ds.Where, _ = data["where"].(string)
	ds.Script, _ = data["script"].(string)
	ds.ScriptFile, _ = data["scriptFile"].(string)
	return ds, nil
}

// convertWindows converts {"<weeks>": [datasets]} to a map keyed by week count.
func convertWindows(raw any) (map[int][]string, error) {
	if raw == nil {
		return map[int][]string{}, nil
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid 'windows': expected a mapping, got %T", raw)
	}
	windows := make(map[int][]string, len(data))
	for key, list := range data {
		weeks, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid 'windows' key %q: expected a week count", key)
		}
		names, err := stringList(list)
		if err != nil {
			return nil, fmt.Errorf("invalid 'windows.%s': %w", key, err)
		}
		windows[weeks] = append(windows[weeks], names...)
	}
	return windows, nil
}

func convertMembership(data map[string]any) (*pipeline.MembershipConfig, error) {
	m := &pipeline.MembershipConfig{}
	var ok bool
	if m.Reference, ok = data["reference"].(string); !ok {
		return nil, fmt.Errorf("missing required field 'reference'")
	}
	if m.Column, ok = data["column"].(string); !ok {
		return nil, fmt.Errorf("missing required field 'column'")
	}
	deps, err := stringList(data["dependents"])
	if err != nil {
		return nil, fmt.Errorf("invalid 'dependents': %w", err)
	}
	m.Dependents = deps
	return m, nil
}

// stringOr returns m[key] when it is a string, else def. A nil map yields def.
func stringOr(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func stringList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	out := make([]string, 0, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("item %d: expected string, got %T", i, v)
		}
		out = append(out, s)
	}
	return out, nil
}

// defaultSteps lists every step, leaving out filter_by_values when there is
// no membership section to drive it.
func defaultSteps(cfg *pipeline.Config) []string {
	if cfg.Membership == nil {
		return []string{pipeline.StepNormalize, pipeline.StepFilterLastWeeks}
	}
	return pipeline.StepNames()
}
