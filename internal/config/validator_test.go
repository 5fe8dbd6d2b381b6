package config

import (
	"strings"
	"testing"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

func validData() map[string]any {
	return map[string]any{
		"name": "test",
		"datasets": map[string]any{
			"pays":   map[string]any{"source": "pays.csv", "format": "csv", "dateColumn": "pay_date"},
			"prints": map[string]any{"source": "prints.json", "format": "jsonl"},
		},
		"windows":    map[string]any{"1": []any{"prints"}, "3": []any{"pays"}},
		"membership": map[string]any{"reference": "prints", "column": "user_id", "dependents": []any{"pays"}},
		"steps":      []any{"normalize", "filter_last_weeks", "filter_by_values"},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	if result := ValidateConfig(validData()); !result.Valid {
		t.Errorf("expected valid config, got errors: %v", result.Errors)
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(m map[string]any)
		wantPath string
	}{
		{name: "missing datasets", mutate: func(m map[string]any) { delete(m, "datasets") }, wantPath: "/"},
		{name: "name not a string", mutate: func(m map[string]any) { m["name"] = 42 }, wantPath: "/name"},
		{name: "unknown format", mutate: func(m map[string]any) {
			m["datasets"].(map[string]any)["pays"].(map[string]any)["format"] = "xlsx"
		}, wantPath: "/datasets/pays/format"},
		{name: "zero week window", mutate: func(m map[string]any) {
			m["windows"] = map[string]any{"0": []any{"pays"}}
		}, wantPath: "/windows"},
		{name: "unknown step", mutate: func(m map[string]any) { m["steps"] = []any{"aggregate"} }, wantPath: "/steps/0"},
		{name: "unknown top-level key", mutate: func(m map[string]any) { m["connector"] = map[string]any{} }, wantPath: "/"},
		{name: "script and scriptFile", mutate: func(m map[string]any) {
			ds := m["datasets"].(map[string]any)["pays"].(map[string]any)
			ds["script"] = "function transform(r) { return r; }"
			ds["scriptFile"] = "t.js"
		}, wantPath: "/datasets/pays"},
		{name: "long delimiter", mutate: func(m map[string]any) {
			m["datasets"].(map[string]any)["pays"].(map[string]any)["delimiter"] = ";;"
		}, wantPath: "/datasets/pays/delimiter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validData()
			tt.mutate(data)
			result := ValidateConfig(data)
			if result.Valid {
				t.Fatal("expected validation to fail")
			}
			found := false
			for _, e := range result.Errors {
				if strings.HasPrefix(e.Path, tt.wantPath) {
					found = true
				}
			}
			if !found {
				t.Errorf("no error at %s: %v", tt.wantPath, result.Errors)
			}
		})
	}
}

func TestValidateConfig_NilAndEmpty(t *testing.T) {
	if result := ValidateConfig(nil); result.Valid || result.Errors[0].Type != "required" {
		t.Errorf("nil data result = %+v", result)
	}
	if result := ValidateConfig(map[string]any{}); result.Valid {
		t.Error("expected empty data to be invalid")
	}
}

func TestGetEmbeddedSchema(t *testing.T) {
	if len(GetEmbeddedSchema()) == 0 {
		t.Fatal("embedded schema is empty")
	}
	if _, err := getCompiledSchema(); err != nil {
		t.Fatalf("schema does not compile: %v", err)
	}
}

func TestValidateReferences(t *testing.T) {
	cfg := &pipeline.Config{
		Datasets: map[string]pipeline.DatasetConfig{
			"pays":   {Source: "pays.csv", Format: "csv"},
			"prints": {Source: "prints.json", Format: "jsonl"},
		},
		Normalize:  pipeline.NormalizeConfig{Datasets: []string{"pays", "taps"}},
		Windows:    map[int][]string{0: {"pays"}, 1: {"prints"}},
		Membership: &pipeline.MembershipConfig{Reference: "clicks", Column: "user_id", Dependents: []string{"pays"}},
		Export:     pipeline.ExportConfig{Stage: "final", Datasets: []string{"prints"}},
		Steps:      []string{"normalize", "dedupe"},
	}

	errs := ValidateReferences(cfg)
	want := map[string]bool{
		"/normalize/datasets/1": false,
		"/windows/0":            false,
		"/membership/reference": false,
		"/export/stage":         false,
		"/steps/1":              false,
	}
	for _, e := range errs {
		if e.Type != ErrorTypeReference {
			t.Errorf("Type = %q for %s", e.Type, e.Path)
		}
		if _, ok := want[e.Path]; !ok {
			t.Errorf("unexpected error at %s: %s", e.Path, e.Message)
		}
		want[e.Path] = true
	}
	for path, seen := range want {
		if !seen {
			t.Errorf("missing error at %s", path)
		}
	}
}

func TestValidateReferences_Clean(t *testing.T) {
	cfg, err := ConvertToPipeline(validData())
	if err != nil {
		t.Fatal(err)
	}
	if errs := ValidateReferences(cfg); len(errs) != 0 {
		t.Errorf("ValidateReferences() = %v", errs)
	}
}

func TestValidateReferences_DatasetInTwoWindows(t *testing.T) {
	data := validData()
	data["windows"] = map[string]any{"1": []any{"prints", "pays"}, "3": []any{"pays"}}
	cfg, err := ConvertToPipeline(data)
	if err != nil {
		t.Fatal(err)
	}

	errs := ValidateReferences(cfg)
	if len(errs) != 1 {
		t.Fatalf("ValidateReferences() = %v, want one error", errs)
	}
	e := errs[0]
	if e.Path != "/windows/3/0" || e.Actual != "pays" {
		t.Errorf("error at %s for %q", e.Path, e.Actual)
	}
	if !strings.Contains(e.Message, "/windows/1/1") {
		t.Errorf("message should name the first window: %q", e.Message)
	}
}

func TestValidateReferences_FilterByValuesNeedsMembership(t *testing.T) {
	tests := []struct {
		name    string
		steps   []any
		wantErr bool
	}{
		{"explicit step", []any{"normalize", "filter_by_values"}, true},
		{"step not listed", []any{"normalize", "filter_last_weeks"}, false},
		{"default steps", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validData()
			delete(data, "membership")
			if tt.steps == nil {
				delete(data, "steps")
			} else {
				data["steps"] = tt.steps
			}
			cfg, err := ConvertToPipeline(data)
			if err != nil {
				t.Fatal(err)
			}

			errs := ValidateReferences(cfg)
			if !tt.wantErr {
				if len(errs) != 0 {
					t.Errorf("ValidateReferences() = %v", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Path != "/steps/1" {
				t.Fatalf("ValidateReferences() = %v, want one error at /steps/1", errs)
			}
			if !strings.Contains(errs[0].Message, "membership") {
				t.Errorf("message = %q", errs[0].Message)
			}
		})
	}
}
