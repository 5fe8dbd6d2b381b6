package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testFixturePath returns the path to test fixtures
func testFixturePath(filename string) string {
	return filepath.Join("..", "..", "internal", "config", "testdata", filename)
}

// runCLI runs the CLI in-process and returns stdout, stderr, and exit code
func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	var out, errw bytes.Buffer
	exitCode = run(context.Background(), args, &out, &errw)
	return out.String(), errw.String(), exitCode
}

const pipelineTemplate = `name: cli-test
folders:
  external: "%[1]s/external"
  raw: "%[1]s/raw"
  staging: "%[1]s/staging"
  processed: "%[1]s/processed"
catalog: "%[2]s"
datasets:
  pays:
    source: pays.csv
    format: csv
  prints:
    source: prints.json
    format: jsonl
windows:
  1: [prints]
  3: [pays]
membership:
  reference: prints
  column: user_id
  dependents: [pays]
export:
  enabled: true
`

// writePipeline writes source files and a configuration under a temp dir and
// returns the configuration path and the data dir. An empty catalog disables
// the run ledger.
func writePipeline(t *testing.T, withCatalog bool) (string, string) {
	t.Helper()
	dir := filepath.ToSlash(t.TempDir())
	files := map[string]string{
		"external/prints.json": `{"day":"2023-06-21","event":{"value_prop":"point"},"user_id":1}` + "\n" +
			`{"day":"2023-06-02","event":{"value_prop":"prepaid"},"user_id":2}` + "\n",
		"external/pays.csv": "pay_date,total,user_id\n2023-06-01,10.5,1\n2023-06-20,3.0,2\n2023-06-21,1.0,1\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	catalogPath := ""
	if withCatalog {
		catalogPath = dir + "/catalog.db"
	}
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf(pipelineTemplate, dir, catalogPath)), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dir
}

func TestCLI_Help(t *testing.T) {
	stdout, _, exitCode := runCLI(t, "--help")

	if exitCode != ExitSuccess {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	for _, cmd := range []string{"validate", "extract", "transform", "export", "run", "artifacts", "schedule", "watch", "version"} {
		if !strings.Contains(stdout, cmd) {
			t.Errorf("expected help to contain %q command", cmd)
		}
	}
}

func TestCLI_Version(t *testing.T) {
	stdout, _, exitCode := runCLI(t, "version")
	if exitCode != ExitSuccess || !strings.Contains(stdout, "Version: dev") {
		t.Errorf("version = %q (exit %d)", stdout, exitCode)
	}
}

func TestCLI_Validate(t *testing.T) {
	tests := []struct {
		name     string
		fixture  string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"valid yaml", "valid-config.yaml", ExitSuccess, "format: yaml", ""},
		{"valid json", "valid-config.json", ExitSuccess, "format: json", ""},
		{"invalid json", "invalid-json.json", ExitParseError, "", "Parse errors"},
		{"invalid yaml", "invalid-yaml.yaml", ExitParseError, "", "Parse errors"},
		{"missing required", "invalid-schema-missing-required.json", ExitValidationError, "", "Validation errors"},
		{"wrong type", "invalid-schema-wrong-type.json", ExitValidationError, "", "Validation errors"},
		{"unknown dataset", "invalid-reference.yaml", ExitValidationError, "", "Validation errors"},
		{"dataset in two windows", "invalid-duplicate-window.yaml", ExitValidationError, "", "already has a window"},
		{"filter_by_values without membership", "invalid-missing-membership.yaml", ExitValidationError, "", "needs a membership section"},
		{"missing file", "does-not-exist.yaml", ExitParseError, "", "failed to read file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := runCLI(t, "validate", testFixturePath(tt.fixture))
			if exitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d\nstderr: %s", exitCode, tt.wantCode, stderr)
			}
			if tt.wantOut != "" && !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout missing %q: %s", tt.wantOut, stdout)
			}
			if tt.wantErr != "" && !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr missing %q: %s", tt.wantErr, stderr)
			}
		})
	}
}

func TestCLI_ValidateVerboseSummary(t *testing.T) {
	stdout, _, exitCode := runCLI(t, "validate", "--verbose", testFixturePath("valid-config.yaml"))
	if exitCode != ExitSuccess {
		t.Fatalf("exit code = %d", exitCode)
	}
	if !strings.Contains(stdout, "Pipeline: value-prop-pipeline") || !strings.Contains(stdout, "Window 1w: prints") {
		t.Errorf("verbose summary missing:\n%s", stdout)
	}
}

func TestCLI_Run(t *testing.T) {
	cfgPath, dir := writePipeline(t, true)

	stdout, stderr, exitCode := runCLI(t, "run", cfgPath)
	if exitCode != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr: %s", exitCode, stderr)
	}
	for _, phase := range []string{"Extract completed", "Transform completed", "Export completed"} {
		if !strings.Contains(stdout, phase) {
			t.Errorf("stdout missing %q:\n%s", phase, stdout)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "processed", "pays.csv"))
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	// Only user 1 printed in the last week.
	want := "pay_date,total,user_id\n2023-06-01,10.5,1\n2023-06-21,1.0,1\n"
	if string(data) != want {
		t.Errorf("pays.csv =\n%s\nwant\n%s", data, want)
	}

	stdout, _, exitCode = runCLI(t, "artifacts", "--runs", cfgPath)
	if exitCode != ExitSuccess {
		t.Fatalf("artifacts exit code = %d", exitCode)
	}
	for _, want := range []string{"022_", "narrowed", "export", "RUN", "success"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("artifacts output missing %q:\n%s", want, stdout)
		}
	}
}

func TestCLI_PhasesWithoutCatalog(t *testing.T) {
	cfgPath, _ := writePipeline(t, false)

	if _, stderr, code := runCLI(t, "extract", cfgPath); code != ExitSuccess {
		t.Fatalf("extract exit code = %d\nstderr: %s", code, stderr)
	}
	if _, stderr, code := runCLI(t, "transform", "--steps", "normalize,filter_last_weeks", cfgPath); code != ExitSuccess {
		t.Fatalf("transform exit code = %d\nstderr: %s", code, stderr)
	}

	stdout, _, code := runCLI(t, "artifacts", cfgPath)
	if code != ExitSuccess {
		t.Fatalf("artifacts exit code = %d", code)
	}
	if !strings.Contains(stdout, "021_") || strings.Contains(stdout, "022_") {
		t.Errorf("artifacts after normalize and window:\n%s", stdout)
	}

	// Export reads the narrowed stage, which was never written.
	_, stderr, code := runCLI(t, "export", cfgPath)
	if code != ExitRuntimeError {
		t.Errorf("export exit code = %d, want %d", code, ExitRuntimeError)
	}
	if !strings.Contains(stderr, "ARTIFACT_NOT_WRITTEN") {
		t.Errorf("stderr missing error code:\n%s", stderr)
	}
}

func TestCLI_TransformUnknownStep(t *testing.T) {
	cfgPath, _ := writePipeline(t, false)
	_, stderr, code := runCLI(t, "transform", "--steps", "normalize,cluster", cfgPath)
	if code != ExitValidationError {
		t.Errorf("exit code = %d, want %d", code, ExitValidationError)
	}
	if !strings.Contains(stderr, "unknown step") {
		t.Errorf("stderr = %s", stderr)
	}
}

func TestCLI_TransformBeforeExtract(t *testing.T) {
	cfgPath, _ := writePipeline(t, false)
	_, stderr, code := runCLI(t, "transform", cfgPath)
	if code != ExitRuntimeError {
		t.Errorf("exit code = %d, want %d", code, ExitRuntimeError)
	}
	if !strings.Contains(stderr, "Transform failed") {
		t.Errorf("stderr = %s", stderr)
	}
}

func TestCLI_BadLogFormat(t *testing.T) {
	_, _, code := runCLI(t, "--log-format", "xml", "version")
	if code != ExitRuntimeError {
		t.Errorf("exit code = %d, want %d", code, ExitRuntimeError)
	}
}

func TestCLI_MissingArgument(t *testing.T) {
	_, _, code := runCLI(t, "run")
	if code != ExitRuntimeError {
		t.Errorf("exit code = %d, want %d", code, ExitRuntimeError)
	}
}

func TestCLI_ScheduleInvalidCron(t *testing.T) {
	cfgPath, _ := writePipeline(t, false)
	_, stderr, code := runCLI(t, "schedule", "--cron", "every morning", cfgPath)
	if code != ExitValidationError {
		t.Errorf("exit code = %d, want %d", code, ExitValidationError)
	}
	if !strings.Contains(stderr, "invalid schedule") {
		t.Errorf("stderr = %s", stderr)
	}

	if _, _, code := runCLI(t, "schedule", cfgPath); code != ExitRuntimeError {
		t.Errorf("missing --cron exit code = %d, want %d", code, ExitRuntimeError)
	}
}

func TestCLI_ScheduleRunsUntilCanceled(t *testing.T) {
	cfgPath, dir := writePipeline(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	var out, errw bytes.Buffer
	code := run(ctx, []string{"schedule", "--cron", "@every 1s", cfgPath}, &out, &errw)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr: %s", code, errw.String())
	}
	if !strings.Contains(out.String(), "Scheduled pipeline cli-test") || !strings.Contains(out.String(), "Export completed") {
		t.Errorf("stdout:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "processed", "pays.csv")); err != nil {
		t.Errorf("scheduled run did not export: %v", err)
	}
}

func TestCLI_WatchRunsOnSourceChange(t *testing.T) {
	cfgPath, dir := writePipeline(t, false)
	exported := filepath.Join(dir, "processed", "pays.csv")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out, errw bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"watch", "--debounce", "50ms", cfgPath}, &out, &errw)
	}()

	time.Sleep(300 * time.Millisecond)
	if _, err := os.Stat(exported); err == nil {
		t.Fatal("pipeline ran before any change")
	}

	pays := "pay_date,total,user_id\n2023-06-21,7.0,1\n"
	if err := os.WriteFile(filepath.Join(dir, "external", "pays.csv"), []byte(pays), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(exported); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	// Give the export a moment to finish writing before stopping.
	time.Sleep(200 * time.Millisecond)
	cancel()

	if code := <-done; code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr: %s", code, errw.String())
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("watched run did not export: %v", err)
	}
	if string(data) != pays {
		t.Errorf("pays.csv =\n%s\nwant\n%s", data, pays)
	}
}
