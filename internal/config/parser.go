package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSONFile parses a JSON configuration file from the given path.
func ParseJSONFile(filepath string) *ParseResult {
	return parseFile(filepath, FormatJSON, ParseJSONString)
}

// ParseYAMLFile parses a YAML configuration file from the given path.
func ParseYAMLFile(filepath string) *ParseResult {
	return parseFile(filepath, FormatYAML, ParseYAMLString)
}

func parseFile(filepath, format string, parse func(string) *ParseResult) *ParseResult {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return &ParseResult{
			FilePath: filepath,
			Format:   format,
			Errors: []ParseError{{
				Path:    filepath,
				Message: fmt.Sprintf("failed to read file: %v", err),
				Type:    ErrorTypeIO,
			}},
		}
	}

	result := parse(string(content))
	result.FilePath = filepath
	for i := range result.Errors {
		if result.Errors[i].Path == "" {
			result.Errors[i].Path = filepath
		}
	}
	return result
}

// ParseJSONString parses JSON content from a string.
func ParseJSONString(content string) *ParseResult {
	result := &ParseResult{Format: FormatJSON}

	content = strings.TrimSpace(content)
	if content == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected JSON object",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		result.Errors = append(result.Errors, parseJSONError(err, content))
		return result
	}
	return withObject(result, data, "JSON object")
}

// ParseYAMLString parses YAML content from a string.
// Mapping keys that are not strings (e.g. window week counts written as
// bare integers) are converted to their string form.
func ParseYAMLString(content string) *ParseResult {
	result := &ParseResult{Format: FormatYAML}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected YAML document",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var data any
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		result.Errors = append(result.Errors, parseYAMLError(err))
		return result
	}
	return withObject(result, stringKeys(data), "YAML mapping")
}

// withObject stores data in result when it is an object. A null document
// is accepted here and rejected by validation.
func withObject(result *ParseResult, data any, want string) *ParseResult {
	if data == nil {
		return result
	}
	m, ok := data.(map[string]any)
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid configuration: expected %s, got %T", want, data),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = m
	return result
}

func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	default:
		return v
	}
}

// parseJSONError extracts line and column information from a JSON error.
func parseJSONError(err error, content string) ParseError {
	parseErr := ParseError{
		Message: err.Error(),
		Type:    ErrorTypeSyntax,
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		parseErr.Line, parseErr.Column = offsetToLineColumn(content, syntaxErr.Offset)
		parseErr.Message = fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())
	}
	return parseErr
}

// offsetToLineColumn converts a byte offset to line and column numbers (1-based).
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

// parseYAMLError extracts the line number yaml.v3 embeds in its messages.
func parseYAMLError(err error) ParseError {
	parseErr := ParseError{
		Message: err.Error(),
		Type:    ErrorTypeSyntax,
	}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		parseErr.Message = fmt.Sprintf("YAML type error: %s", strings.Join(typeErr.Errors, "; "))
	}

	// Format: "yaml: line X: ..."
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		parseErr.Line = line
	}
	return parseErr
}

// ParseConfig parses, validates and converts a configuration file.
// The format is taken from the extension (.json, .yaml, .yml), else detected
// from content. Result.Pipeline is set when no error was found.
func ParseConfig(filepath string) *Result {
	var parsed *ParseResult
	switch DetectFormat(filepath) {
	case FormatJSON:
		parsed = ParseJSONFile(filepath)
	case FormatYAML:
		parsed = ParseYAMLFile(filepath)
	default:
		content, err := os.ReadFile(filepath)
		if err != nil {
			return &Result{
				FilePath: filepath,
				ParseErrors: []ParseError{{
					Path:    filepath,
					Message: fmt.Sprintf("failed to read file: %v", err),
					Type:    ErrorTypeIO,
				}},
			}
		}
		result := ParseConfigString(string(content), "")
		result.FilePath = filepath
		for i := range result.ParseErrors {
			result.ParseErrors[i].Path = filepath
		}
		return result
	}

	result := finish(parsed)
	result.FilePath = filepath
	return result
}

// ParseConfigString parses, validates and converts configuration content.
// If format is empty, it is detected from content.
func ParseConfigString(content string, format string) *Result {
	if format == "" {
		switch {
		case IsJSON(content):
			format = FormatJSON
		case IsYAML(content):
			format = FormatYAML
		default:
			return &Result{ParseErrors: []ParseError{{
				Message: "unable to detect configuration format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			}}}
		}
	}

	switch format {
	case FormatJSON:
		return finish(ParseJSONString(content))
	case FormatYAML:
		return finish(ParseYAMLString(content))
	default:
		return &Result{
			Format: format,
			ParseErrors: []ParseError{{
				Message: fmt.Sprintf("unsupported format: %s", format),
				Type:    ErrorTypeFormat,
			}},
		}
	}
}

// finish validates a parse result and converts it when valid.
func finish(parsed *ParseResult) *Result {
	result := &Result{
		Data:        parsed.Data,
		ParseErrors: parsed.Errors,
		FilePath:    parsed.FilePath,
		Format:      parsed.Format,
	}
	if !parsed.IsValid() {
		return result
	}

	validation := ValidateConfig(parsed.Data)
	result.ValidationErrors = validation.Errors
	if !validation.Valid {
		return result
	}

	cfg, err := ConvertToPipeline(parsed.Data)
	if err != nil {
		result.ValidationErrors = append(result.ValidationErrors, ValidationError{
			Path:    "/",
			Type:    ErrorTypeConvert,
			Message: err.Error(),
		})
		return result
	}
	if refErrs := ValidateReferences(cfg); len(refErrs) > 0 {
		result.ValidationErrors = append(result.ValidationErrors, refErrs...)
		return result
	}
	result.Pipeline = cfg
	return result
}

// DetectFormat detects the configuration format from file extension.
// Returns "json", "yaml", or empty string if format cannot be detected.
func DetectFormat(filepath string) string {
	switch strings.ToLower(path.Ext(filepath)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON checks if the content appears to be JSON format.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML checks if the content appears to be valid YAML.
// Note: JSON is also valid YAML, so this may return true for JSON content.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data any
	err := yaml.Unmarshal([]byte(content), &data)
	return err == nil && data != nil
}
