// Package pipeline provides public types for staged batch pipelines.
// This package is intended to be importable by external projects that need
// to configure or inspect stagepipe runs.
package pipeline

import (
	"sort"
	"time"
)

// Transform step names, in pipeline order.
const (
	StepNormalize       = "normalize"
	StepFilterLastWeeks = "filter_last_weeks"
	StepFilterByValues  = "filter_by_values"
)

// StepNames returns the transform step names in pipeline order.
func StepNames() []string {
	return []string{StepNormalize, StepFilterLastWeeks, StepFilterByValues}
}

// Run phases
const (
	PhaseExtract   = "extract"
	PhaseTransform = "transform"
	PhaseExport    = "export"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config represents a complete pipeline configuration.
// It describes where datasets come from, which transforms run on them and
// where every stage writes its artifacts.
type Config struct {
	// Name is the human-readable name of the pipeline
	Name string `json:"name"`

	// Description provides additional context about the pipeline
	Description string `json:"description,omitempty"`

	// Folders holds the filesystem layout used by every phase
	Folders Folders `json:"folders"`

	// Catalog is the path of the SQLite run ledger (empty disables it)
	Catalog string `json:"catalog,omitempty"`

	// Datasets maps a dataset name to its source and schema settings
	Datasets map[string]DatasetConfig `json:"datasets"`

	// DatasetOrder is the deterministic processing order of Datasets
	DatasetOrder []string `json:"-"`

	// Normalize configures the normalize step
	Normalize NormalizeConfig `json:"normalize"`

	// Windows maps a week count to the datasets windowed with it
	Windows map[int][]string `json:"windows"`

	// Membership configures the filter_by_values step
	Membership *MembershipConfig `json:"membership,omitempty"`

	// Export configures the CSV export phase
	Export ExportConfig `json:"export"`

	// Steps lists the transform steps executed by default
	Steps []string `json:"steps,omitempty"`
}

// WindowWeeks returns the configured window sizes in ascending order.
func (c *Config) WindowWeeks() []int {
	weeks := make([]int, 0, len(c.Windows))
	for w := range c.Windows {
		weeks = append(weeks, w)
	}
	sort.Ints(weeks)
	return weeks
}

// Folders defines the directory layout of a pipeline.
type Folders struct {
	// External holds the source files
	External string `json:"external"`

	// Raw holds extracted, untransformed artifacts
	Raw string `json:"raw"`

	// Staging holds intermediate stage artifacts
	Staging string `json:"staging"`

	// Processed holds exported CSV files
	Processed string `json:"processed"`
}

// DatasetConfig describes one logical dataset.
type DatasetConfig struct {
	// Source is the file name under Folders.External
	Source string `json:"source"`

	// Format is the source file format ("csv", "json", "jsonl")
	Format string `json:"format"`

	// Delimiter overrides the CSV field delimiter
	Delimiter string `json:"delimiter,omitempty"`

	// DateColumn is the column used by the date-window filter
	DateColumn string `json:"dateColumn,omitempty"`

	// Where is an optional boolean row predicate applied after normalization
	Where string `json:"where,omitempty"`

	// Script is an optional inline JavaScript transform(record) function
	Script string `json:"script,omitempty"`

	// ScriptFile is an optional path to a JavaScript transform file
	ScriptFile string `json:"scriptFile,omitempty"`
}

// NormalizeConfig configures the normalize step.
type NormalizeConfig struct {
	// Datasets lists the datasets to normalize
	Datasets []string `json:"datasets"`

	// Separator joins nested key paths (default "_")
	Separator string `json:"separator,omitempty"`
}

// MembershipConfig configures the filter_by_values step.
type MembershipConfig struct {
	// Reference is the authoritative dataset
	Reference string `json:"reference"`

	// Column is the key column shared by reference and dependents
	Column string `json:"column"`

	// Dependents are the datasets narrowed to the reference keys
	Dependents []string `json:"dependents"`
}

// ExportConfig configures the CSV export phase.
type ExportConfig struct {
	// Enabled turns the export phase on for "run"
	Enabled bool `json:"enabled"`

	// Stage is the label of the stage exported ("narrowed" by default)
	Stage string `json:"stage,omitempty"`

	// Datasets restricts the exported datasets (all when empty)
	Datasets []string `json:"datasets,omitempty"`
}

// RunResult represents the result of one pipeline phase execution.
type RunResult struct {
	// RunID is the unique identifier of the run
	RunID string `json:"runId"`

	// Pipeline is the name of the executed pipeline
	Pipeline string `json:"pipeline"`

	// Phase is the executed phase ("extract", "transform", "export")
	Phase string `json:"phase"`

	// Status is the run status ("success", "error")
	Status string `json:"status"`

	// StartedAt is when the run started
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run completed
	CompletedAt time.Time `json:"completedAt"`

	// Steps holds one entry per executed step and dataset
	Steps []StepResult `json:"steps"`

	// Error contains error details if the run failed
	Error *RunError `json:"error,omitempty"`
}

// Duration returns the run duration.
func (r *RunResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ArtifactsWritten returns the number of artifacts produced by the run.
func (r *RunResult) ArtifactsWritten() int {
	n := 0
	for _, s := range r.Steps {
		if s.Artifact != "" {
			n++
		}
	}
	return n
}

// StepResult describes the work done by a step on a single dataset.
type StepResult struct {
	// Step is the step name
	Step string `json:"step"`

	// Dataset is the dataset processed
	Dataset string `json:"dataset"`

	// InputRows is the row count read
	InputRows int `json:"inputRows"`

	// OutputRows is the row count written
	OutputRows int `json:"outputRows"`

	// Columns is the number of output columns
	Columns int `json:"columns"`

	// Artifact is the path of the written artifact
	Artifact string `json:"artifact,omitempty"`

	// Duration is the time spent on the dataset
	Duration time.Duration `json:"duration"`
}

// RunError contains details about a run failure.
type RunError struct {
	// Code is the error code
	Code string `json:"code"`

	// Category is the error category ("input", "io", "configuration")
	Category string `json:"category"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Step is the step where the error occurred
	Step string `json:"step,omitempty"`

	// Dataset is the dataset being processed when the error occurred
	Dataset string `json:"dataset,omitempty"`
}
