package runtime

import (
	"context"
	"errors"

	"github.com/stagepipe/stagepipe/internal/errhandling"
	"github.com/stagepipe/stagepipe/internal/factory"
	"github.com/stagepipe/stagepipe/internal/modules/filter"
	"github.com/stagepipe/stagepipe/internal/modules/input"
	"github.com/stagepipe/stagepipe/internal/modules/output"
	"github.com/stagepipe/stagepipe/internal/stage"
	"github.com/stagepipe/stagepipe/internal/staging"
	"github.com/stagepipe/stagepipe/internal/table"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Error codes reported in pipeline.RunError.
const (
	ErrCodeCanceled           = "CANCELED"
	ErrCodeMissingColumn      = "MISSING_COLUMN"
	ErrCodeInvalidWeeks       = "INVALID_WEEKS"
	ErrCodeEmptyTable         = "EMPTY_TABLE"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeNestedConflict     = "NESTED_CONFLICT"
	ErrCodeColumnCollision    = "COLUMN_COLLISION"
	ErrCodeKindConflict       = "KIND_CONFLICT"
	ErrCodeEvaluationFailed   = "EVALUATION_FAILED"
	ErrCodeScriptFailed       = "SCRIPT_FAILED"
	ErrCodeSourceNotFound     = "SOURCE_NOT_FOUND"
	ErrCodeMalformedSource    = "MALFORMED_SOURCE"
	ErrCodeCorruptArtifact    = "CORRUPT_ARTIFACT"
	ErrCodeWriteFailed        = "WRITE_FAILED"
	ErrCodeExportFailed       = "EXPORT_FAILED"
	ErrCodeCatalogFailed      = "CATALOG_FAILED"
	ErrCodeArtifactNotWritten = "ARTIFACT_NOT_WRITTEN"
	ErrCodeUnknownStep        = "UNKNOWN_STEP"
	ErrCodeUnknownDataset     = "UNKNOWN_DATASET"
	ErrCodeUnknownStage       = "UNKNOWN_STAGE"
	ErrCodeStepNotConfigured  = "STEP_NOT_CONFIGURED"
	ErrCodeDuplicateWindow    = "DUPLICATE_WINDOW"
	ErrCodeInvalidModule      = "INVALID_MODULE_CONFIG"
)

var (
	// ErrNilPipeline is returned when the pipeline configuration is nil.
	ErrNilPipeline = errors.New("pipeline configuration is nil")

	// ErrUnknownDataset is returned when a step names a dataset that is not configured.
	ErrUnknownDataset = errors.New("unknown dataset")

	// ErrStepNotConfigured is returned when a step is requested but its
	// configuration section is absent.
	ErrStepNotConfigured = errors.New("step not configured")

	// ErrDuplicateWindow is returned when a dataset has more than one window size.
	ErrDuplicateWindow = errors.New("dataset has more than one window")

	// ErrCatalogFailed is returned when the run ledger cannot be updated.
	ErrCatalogFailed = errors.New("catalog update failed")
)

// classifier maps package sentinels to error categories. Rules are checked in
// order, so cancellation and module construction come before data errors.
var classifier = errhandling.NewClassifier(
	errhandling.Rule{Sentinel: context.Canceled, Category: errhandling.CategoryCanceled, Code: ErrCodeCanceled},
	errhandling.Rule{Sentinel: context.DeadlineExceeded, Category: errhandling.CategoryCanceled, Code: ErrCodeCanceled},

	errhandling.Rule{Sentinel: ErrUnknownStep, Category: errhandling.CategoryConfiguration, Code: ErrCodeUnknownStep},
	errhandling.Rule{Sentinel: ErrUnknownDataset, Category: errhandling.CategoryConfiguration, Code: ErrCodeUnknownDataset},
	errhandling.Rule{Sentinel: ErrStepNotConfigured, Category: errhandling.CategoryConfiguration, Code: ErrCodeStepNotConfigured},
	errhandling.Rule{Sentinel: ErrDuplicateWindow, Category: errhandling.CategoryConfiguration, Code: ErrCodeDuplicateWindow},
	errhandling.Rule{Sentinel: stage.ErrUnknownStage, Category: errhandling.CategoryConfiguration, Code: ErrCodeUnknownStage},
	errhandling.Rule{Sentinel: staging.ErrArtifactNotFound, Category: errhandling.CategoryConfiguration, Code: ErrCodeArtifactNotWritten},
	errhandling.Rule{Sentinel: factory.ErrUnknownFormat, Category: errhandling.CategoryConfiguration, Code: ErrCodeInvalidModule},
	errhandling.Rule{Sentinel: factory.ErrInvalidModuleConfig, Category: errhandling.CategoryConfiguration, Code: ErrCodeInvalidModule},
	errhandling.Rule{Sentinel: filter.ErrInvalidExpression, Category: errhandling.CategoryConfiguration, Code: ErrCodeInvalidModule},

	errhandling.Rule{Sentinel: filter.ErrMissingColumn, Category: errhandling.CategoryInput, Code: ErrCodeMissingColumn},
	errhandling.Rule{Sentinel: filter.ErrInvalidWeeks, Category: errhandling.CategoryInput, Code: ErrCodeInvalidWeeks},
	errhandling.Rule{Sentinel: filter.ErrEmptyTable, Category: errhandling.CategoryInput, Code: ErrCodeEmptyTable},
	errhandling.Rule{Sentinel: filter.ErrInvalidDate, Category: errhandling.CategoryInput, Code: ErrCodeInvalidDate},
	errhandling.Rule{Sentinel: filter.ErrNestedConflict, Category: errhandling.CategoryInput, Code: ErrCodeNestedConflict},
	errhandling.Rule{Sentinel: filter.ErrColumnCollision, Category: errhandling.CategoryInput, Code: ErrCodeColumnCollision},
	errhandling.Rule{Sentinel: filter.ErrEvaluationFailed, Category: errhandling.CategoryInput, Code: ErrCodeEvaluationFailed},
	errhandling.Rule{Sentinel: filter.ErrScriptFailed, Category: errhandling.CategoryInput, Code: ErrCodeScriptFailed},
	errhandling.Rule{Sentinel: table.ErrKindConflict, Category: errhandling.CategoryInput, Code: ErrCodeKindConflict},

	errhandling.Rule{Sentinel: input.ErrSourceNotFound, Category: errhandling.CategoryIO, Code: ErrCodeSourceNotFound},
	errhandling.Rule{Sentinel: input.ErrMalformedSource, Category: errhandling.CategoryIO, Code: ErrCodeMalformedSource},
	errhandling.Rule{Sentinel: staging.ErrCorruptArtifact, Category: errhandling.CategoryIO, Code: ErrCodeCorruptArtifact},
	errhandling.Rule{Sentinel: staging.ErrWriteFailed, Category: errhandling.CategoryIO, Code: ErrCodeWriteFailed},
	errhandling.Rule{Sentinel: output.ErrExportFailed, Category: errhandling.CategoryIO, Code: ErrCodeExportFailed},
	errhandling.Rule{Sentinel: ErrCatalogFailed, Category: errhandling.CategoryIO, Code: ErrCodeCatalogFailed},
)

// Classify returns the classified form of a run error.
func Classify(err error) *errhandling.ClassifiedError {
	return classifier.Classify(err)
}

// buildRunError creates a RunError from a classified error.
func buildRunError(classified *errhandling.ClassifiedError, step, dataset string) *pipeline.RunError {
	if classified == nil {
		return nil
	}
	return &pipeline.RunError{
		Code:     classified.Code,
		Category: string(classified.Category),
		Message:  classified.Message,
		Step:     step,
		Dataset:  dataset,
	}
}
