package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseYAMLFile_Valid(t *testing.T) {
	result := ParseYAMLFile("testdata/valid-config.yaml")
	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if result.Format != FormatYAML {
		t.Errorf("Format = %q, want yaml", result.Format)
	}
	if result.Data["name"] != "value-prop-pipeline" {
		t.Errorf("name = %v", result.Data["name"])
	}

	windows, ok := result.Data["windows"].(map[string]any)
	if !ok {
		t.Fatalf("windows = %T, want map[string]any", result.Data["windows"])
	}
	if _, ok := windows["1"]; !ok {
		t.Errorf("integer window key was not converted to a string: %v", windows)
	}
}

func TestParseJSONFile_Valid(t *testing.T) {
	result := ParseJSONFile("testdata/valid-config.json")
	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if result.FilePath != "testdata/valid-config.json" {
		t.Errorf("FilePath = %q", result.FilePath)
	}
}

func TestParseJSONFile_InvalidJSON(t *testing.T) {
	result := ParseJSONFile("testdata/invalid-json.json")
	if result.IsValid() {
		t.Fatal("expected parsing to fail for invalid JSON")
	}
	if got := result.Errors[0]; got.Type != ErrorTypeSyntax || got.Path != "testdata/invalid-json.json" {
		t.Errorf("error = %+v", got)
	}
}

func TestParseJSONFile_Empty(t *testing.T) {
	result := ParseJSONFile("testdata/empty.json")
	if result.IsValid() {
		t.Fatal("expected parsing to fail for empty file")
	}
	if !strings.Contains(result.Errors[0].Message, "empty content") {
		t.Errorf("message = %q", result.Errors[0].Message)
	}
}

func TestParseFile_Missing(t *testing.T) {
	for _, parse := range []func(string) *ParseResult{ParseJSONFile, ParseYAMLFile} {
		result := parse("testdata/does-not-exist")
		if result.IsValid() || result.Errors[0].Type != ErrorTypeIO {
			t.Errorf("errors = %v, want one io error", result.Errors)
		}
	}
}

func TestParseJSONString(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantType  string
		wantLine  int
		wantValid bool
	}{
		{name: "object", content: `{"name": "x"}`, wantValid: true},
		{name: "null", content: `null`, wantValid: true},
		{name: "array", content: `[1, 2]`, wantType: ErrorTypeFormat},
		{name: "syntax on line 3", content: "{\n  \"name\": \"x\",\n  oops\n}", wantType: ErrorTypeSyntax, wantLine: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseJSONString(tt.content)
			if result.IsValid() != tt.wantValid {
				t.Fatalf("IsValid() = %v, errors %v", result.IsValid(), result.Errors)
			}
			if tt.wantValid {
				return
			}
			if result.Errors[0].Type != tt.wantType {
				t.Errorf("Type = %q, want %q", result.Errors[0].Type, tt.wantType)
			}
			if tt.wantLine != 0 && result.Errors[0].Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", result.Errors[0].Line, tt.wantLine)
			}
		})
	}
}

func TestParseYAMLString_Errors(t *testing.T) {
	result := ParseYAMLFile("testdata/invalid-yaml.yaml")
	if result.IsValid() {
		t.Fatal("expected YAML syntax error")
	}
	if result.Errors[0].Type != ErrorTypeSyntax {
		t.Errorf("Type = %q", result.Errors[0].Type)
	}

	result = ParseYAMLString("- a\n- b\n")
	if result.IsValid() || result.Errors[0].Type != ErrorTypeFormat {
		t.Errorf("sequence document errors = %v", result.Errors)
	}
}

func TestStringKeys(t *testing.T) {
	in := map[string]any{
		"windows": map[any]any{1: []any{"prints"}, "3": []any{map[any]any{true: "x"}}},
	}
	want := map[string]any{
		"windows": map[string]any{"1": []any{"prints"}, "3": []any{map[string]any{"true": "x"}}},
	}
	if got := stringKeys(in); !reflect.DeepEqual(got, want) {
		t.Errorf("stringKeys() = %v, want %v", got, want)
	}
}

func TestOffsetToLineColumn(t *testing.T) {
	content := "ab\ncd\nef"
	tests := []struct {
		offset    int64
		line, col int
	}{
		{0, 1, 1},
		{1, 1, 2},
		{3, 2, 1},
		{7, 3, 2},
		{100, 3, 3},
	}
	for _, tt := range tests {
		line, col := offsetToLineColumn(content, tt.offset)
		if line != tt.line || col != tt.col {
			t.Errorf("offsetToLineColumn(%d) = %d,%d want %d,%d", tt.offset, line, col, tt.line, tt.col)
		}
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		wantParse    bool
		wantValidate bool
		wantPipeline string
	}{
		{name: "yaml", path: "testdata/valid-config.yaml", wantPipeline: "value-prop-pipeline"},
		{name: "json", path: "testdata/valid-config.json", wantPipeline: "minimal"},
		{name: "detected from content", path: "testdata/no-extension", wantPipeline: "detected"},
		{name: "syntax error", path: "testdata/invalid-json.json", wantParse: true},
		{name: "missing file", path: "testdata/missing.yaml", wantParse: true},
		{name: "missing file no extension", path: "testdata/missing", wantParse: true},
		{name: "schema error", path: "testdata/invalid-schema-missing-required.json", wantValidate: true},
		{name: "wrong type", path: "testdata/invalid-schema-wrong-type.json", wantValidate: true},
		{name: "dangling reference", path: "testdata/invalid-reference.yaml", wantValidate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseConfig(tt.path)
			if got := len(result.ParseErrors) > 0; got != tt.wantParse {
				t.Fatalf("parse errors = %v", result.ParseErrors)
			}
			if got := len(result.ValidationErrors) > 0; got != tt.wantValidate {
				t.Fatalf("validation errors = %v", result.ValidationErrors)
			}
			if tt.wantPipeline == "" {
				if result.Pipeline != nil {
					t.Error("Pipeline set on an invalid configuration")
				}
				return
			}
			if result.Pipeline == nil || result.Pipeline.Name != tt.wantPipeline {
				t.Errorf("Pipeline = %+v", result.Pipeline)
			}
			if !result.IsValid() {
				t.Errorf("parse errors %v, validation errors %v", result.ParseErrors, result.ValidationErrors)
			}
		})
	}
}

func TestParseConfigString(t *testing.T) {
	result := ParseConfigString(`{"name": "inline", "datasets": {"pays": {"source": "p.csv", "format": "csv"}}}`, "")
	if !result.IsValid() || result.Format != FormatJSON {
		t.Fatalf("result = %+v", result)
	}

	result = ParseConfigString("name: inline\n", "toml")
	if result.IsValid() || result.ParseErrors[0].Type != ErrorTypeFormat {
		t.Errorf("unsupported format errors = %v", result.ParseErrors)
	}

	result = ParseConfigString("   ", "")
	if result.IsValid() {
		t.Error("expected blank content to fail")
	}
}

func TestParseConfig_WritesPathIntoErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg")
	if err := os.WriteFile(path, []byte("{ not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := ParseConfig(path)
	if len(result.ParseErrors) == 0 || result.ParseErrors[0].Path != path {
		t.Errorf("parse errors = %v", result.ParseErrors)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]string{
		"a.json": FormatJSON,
		"a.YAML": FormatYAML,
		"a.yml":  FormatYAML,
		"a.toml": "",
		"a":      "",
	}
	for in, want := range tests {
		if got := DetectFormat(in); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseErrorString(t *testing.T) {
	e := ParseError{Path: "c.yaml", Line: 3, Column: 7, Message: "bad"}
	if got := e.Error(); got != "c.yaml:3:7: bad" {
		t.Errorf("Error() = %q", got)
	}
	if got := (ParseError{Message: "empty content"}).Error(); got != "empty content" {
		t.Errorf("Error() = %q", got)
	}
	v := ValidationError{Path: "/datasets", Message: "required"}
	if got := v.Error(); got != "/datasets: required" {
		t.Errorf("Error() = %q", got)
	}
}
