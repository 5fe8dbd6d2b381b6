package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stagepipe/stagepipe/internal/stage"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

//go:embed schema/pipeline-schema.json
var embeddedSchema []byte

// schemaOnce ensures thread-safe initialization of the compiled schema.
var schemaOnce sync.Once

// compiledSchema is the cached compiled schema.
var compiledSchema *jsonschema.Schema

// schemaInitErr stores any error from schema initialization.
var schemaInitErr error

// GetEmbeddedSchema returns the embedded pipeline schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

// getCompiledSchema returns the compiled JSON schema, compiling it if necessary.
// Thread-safe via sync.Once.
func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		// Parse the schema JSON
		var schemaDoc any
		if err := json.Unmarshal(embeddedSchema, &schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		// Create a new compiler
		compiler := jsonschema.NewCompiler()

		// Add the schema to the compiler
		schemaURL := "https://stagepipe.dev/schemas/pipeline/v1/pipeline-schema.json"
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		// Compile the schema
		var err error
		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
			return
		}
	})

	if schemaInitErr != nil {
		return nil, schemaInitErr
	}
	return compiledSchema, nil
}

// ValidateConfig validates a parsed configuration against the pipeline schema.
// Returns a ValidationResult with validation status and any errors.
func ValidateConfig(data map[string]any) *ValidationResult {
	result := &ValidationResult{
		Valid: true,
	}

	// Handle nil data
	if data == nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "configuration data is nil",
		})
		return result
	}

	// Handle empty data
	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "configuration data is empty",
		})
		return result
	}

	// Get the compiled schema
	schema, err := getCompiledSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	// Validate the data against the schema
	validationErr := schema.Validate(data)
	if validationErr != nil {
		result.Valid = false

		// Convert validation errors to our format
		if detailedErr, ok := validationErr.(*jsonschema.ValidationError); ok {
			result.Errors = convertValidationErrors(detailedErr)
		} else {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: validationErr.Error(),
			})
		}
	}

	return result
}

// convertValidationErrors converts jsonschema validation errors to our format.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	// Only leaf errors carry a useful message; parents summarize their causes.
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		}}
	}

	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

// formatInstanceLocation formats the instance location as a JSON path.
func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// extractErrorType extracts a simplified error type from the validation error.
func extractErrorType(err *jsonschema.ValidationError) string {
	errStr := err.Error()
	msg := strings.ToLower(errStr)

	switch {
	case strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "type"):
		return "type"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return "range"
	case strings.Contains(msg, "format"):
		return "format"
	case strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	default:
		return "validation"
	}
}

// ValidateReferences checks what the schema cannot express: every dataset
// named by a step exists, window sizes are at least one week, no dataset has
// two windows, step and stage names are known, and filter_by_values has a
// membership section.
func ValidateReferences(cfg *pipeline.Config) []ValidationError {
	var errs []ValidationError
	ref := func(path, name string) {
		if _, ok := cfg.Datasets[name]; !ok {
			errs = append(errs, ValidationError{
				Path:    path,
				Type:    ErrorTypeReference,
				Actual:  name,
				Message: fmt.Sprintf("unknown dataset %q", name),
			})
		}
	}

	for i, ds := range cfg.Normalize.Datasets {
		ref(fmt.Sprintf("/normalize/datasets/%d", i), ds)
	}
	windowed := make(map[string]string)
	for _, weeks := range cfg.WindowWeeks() {
		if weeks < 1 {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("/windows/%d", weeks),
				Type:     ErrorTypeReference,
				Expected: ">= 1",
				Actual:   fmt.Sprint(weeks),
				Message:  "window must span at least one week",
			})
		}
		for i, ds := range cfg.Windows[weeks] {
			path := fmt.Sprintf("/windows/%d/%d", weeks, i)
			ref(path, ds)
			if first, ok := windowed[ds]; ok {
				errs = append(errs, ValidationError{
					Path:    path,
					Type:    ErrorTypeReference,
					Actual:  ds,
					Message: fmt.Sprintf("dataset %q already has a window at %s", ds, first),
				})
				continue
			}
			windowed[ds] = path
		}
	}
	if m := cfg.Membership; m != nil {
		ref("/membership/reference", m.Reference)
		for i, ds := range m.Dependents {
			ref(fmt.Sprintf("/membership/dependents/%d", i), ds)
		}
	}
	for i, ds := range cfg.Export.Datasets {
		ref(fmt.Sprintf("/export/datasets/%d", i), ds)
	}
	if cfg.Export.Stage != "" {
		if _, err := stage.Parse(cfg.Export.Stage); err != nil {
			errs = append(errs, ValidationError{
				Path:    "/export/stage",
				Type:    ErrorTypeReference,
				Actual:  cfg.Export.Stage,
				Message: err.Error(),
			})
		}
	}
	knownSteps := pipeline.StepNames()
	for i, step := range cfg.Steps {
		if step == pipeline.StepFilterByValues && cfg.Membership == nil {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("/steps/%d", i),
				Type:     ErrorTypeReference,
				Expected: "a membership section",
				Actual:   step,
				Message:  fmt.Sprintf("step %q needs a membership section", step),
			})
			continue
		}
		if !slices.Contains(knownSteps, step) {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("/steps/%d", i),
				Type:     ErrorTypeReference,
				Expected: strings.Join(knownSteps, ", "),
				Actual:   step,
				Message:  fmt.Sprintf("unknown step %q", step),
			})
		}
	}
	return errs
}
