package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/pathutil"
	"github.com/stagepipe/stagepipe/internal/table"
)

// Error codes for script module
const (
	ErrCodeScriptEmpty       = "SCRIPT_EMPTY"
	ErrCodeScriptTooLong     = "SCRIPT_TOO_LONG"
	ErrCodeCompilationFailed = "COMPILATION_FAILED"
	ErrCodeMissingTransform  = "MISSING_TRANSFORM"
	ErrCodeExecutionFailed   = "EXECUTION_FAILED"
	ErrCodeInvalidScriptFile = "INVALID_SCRIPT_FILE"
)

// MaxScriptLength is the maximum allowed script length in bytes (100KB)
const MaxScriptLength = 100 * 1024

// Common errors for script module
var (
	ErrScriptEmpty          = errors.New("script cannot be empty")
	ErrScriptTooLong        = errors.New("script exceeds maximum length")
	ErrMissingTransformFunc = errors.New("transform function not found in script")
	ErrScriptFailed         = errors.New("script execution failed")
)

// ScriptConfig holds either an inline script or a script file path.
type ScriptConfig struct {
	Script     string
	ScriptFile string
}

// ScriptError carries structured context for script failures.
type ScriptError struct {
	Code       string
	Message    string
	Row        int
	StackTrace string
	Err        error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// ScriptModule runs a JavaScript transform(record) function on each row.
// The function returns the new record, or null/undefined to drop the row.
//
// The goja runtime is not goroutine-safe; Process must not be called
// concurrently on the same module.
type ScriptModule struct {
	runtime     *goja.Runtime
	transformFn goja.Callable
	interruptMu sync.Mutex
}

// NewScriptModule compiles the script and checks that transform exists.
func NewScriptModule(cfg ScriptConfig) (*ScriptModule, error) {
	source, err := resolveScriptSource(cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		return nil, &ScriptError{Code: ErrCodeScriptEmpty, Message: ErrScriptEmpty.Error(), Row: -1, Err: ErrScriptEmpty}
	}
	if len(source) > MaxScriptLength {
		return nil, &ScriptError{
			Code:    ErrCodeScriptTooLong,
			Message: fmt.Sprintf("script is %d bytes, limit is %d", len(source), MaxScriptLength),
			Row:     -1,
			Err:     ErrScriptTooLong,
		}
	}

	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, &ScriptError{
			Code:    ErrCodeCompilationFailed,
			Message: fmt.Sprintf("script compilation failed: %v", err),
			Row:     -1,
			Err:     err,
		}
	}

	fnVal := vm.Get("transform")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return nil, &ScriptError{Code: ErrCodeMissingTransform, Message: ErrMissingTransformFunc.Error(), Row: -1, Err: ErrMissingTransformFunc}
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, &ScriptError{Code: ErrCodeMissingTransform, Message: "transform is not a function", Row: -1, Err: ErrMissingTransformFunc}
	}

	logger.Debug("script module initialized",
		slog.Int("script_length", len(source)),
		slog.Bool("from_file", cfg.ScriptFile != ""),
	)
	return &ScriptModule{runtime: vm, transformFn: fn}, nil
}

func resolveScriptSource(cfg ScriptConfig) (string, error) {
	if cfg.Script != "" && cfg.ScriptFile != "" {
		return "", &ScriptError{Code: ErrCodeInvalidScriptFile, Message: "cannot specify both script and scriptFile", Row: -1}
	}
	if cfg.ScriptFile == "" {
		return cfg.Script, nil
	}
	if err := pathutil.ValidateFilePath(cfg.ScriptFile); err != nil {
		return "", &ScriptError{Code: ErrCodeInvalidScriptFile, Message: err.Error(), Row: -1, Err: err}
	}
	data, err := os.ReadFile(cfg.ScriptFile)
	if err != nil {
		return "", &ScriptError{
			Code:    ErrCodeInvalidScriptFile,
			Message: fmt.Sprintf("reading script file %s: %v", cfg.ScriptFile, err),
			Row:     -1,
			Err:     err,
		}
	}
	return string(data), nil
}

// Process implements Module. Output columns keep the input order for every
// column still present in some record, followed by new keys.
func (m *ScriptModule) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		m.interruptMu.Lock()
		m.runtime.ClearInterrupt()
		m.interruptMu.Unlock()
	}()
	go func() {
		select {
		case <-ctx.Done():
			m.interruptMu.Lock()
			m.runtime.Interrupt(ctx.Err().Error())
			m.interruptMu.Unlock()
		case <-done:
		}
	}()

	cols := t.Columns()
	results := make([]map[string]any, 0, t.NumRows())
	present := map[string]bool{}
	for i := 0; i < t.NumRows(); i++ {
		record := make(map[string]any, len(cols))
		for _, c := range cols {
			record[c.Name] = c.Values[i]
		}

		out, err := m.transformFn(goja.Undefined(), m.runtime.ToValue(record))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, m.executionError(err, i)
		}
		if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
			continue
		}
		rec, err := exportRecord(m.runtime, out, i)
		if err != nil {
			return nil, err
		}
		for k := range rec {
			present[k] = true
		}
		results = append(results, rec)
	}

	order := make([]string, 0, len(cols))
	for _, c := range cols {
		if present[c.Name] || len(results) == 0 {
			order = append(order, c.Name)
		}
	}
	res, err := table.FromRecords(results, order)
	if err != nil {
		return nil, &ScriptError{Code: ErrCodeExecutionFailed, Message: fmt.Sprintf("script output: %v", err), Row: -1, Err: err}
	}

	logger.Debug("script module applied",
		slog.Int("input_rows", t.NumRows()),
		slog.Int("output_rows", res.NumRows()),
	)
	return res, nil
}

func (m *ScriptModule) executionError(err error, row int) error {
	stack := ""
	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		if obj, ok := jsErr.Value().(*goja.Object); ok {
			if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
				stack = s.String()
			}
		}
		return &ScriptError{
			Code:       ErrCodeExecutionFailed,
			Message:    fmt.Sprintf("script failed at row %d: %v", row, jsErr.Value()),
			Row:        row,
			StackTrace: stack,
			Err:        fmt.Errorf("%w: %w", ErrScriptFailed, err),
		}
	}
	return &ScriptError{
		Code:    ErrCodeExecutionFailed,
		Message: fmt.Sprintf("script failed at row %d: %v", row, err),
		Row:     row,
		Err:     fmt.Errorf("%w: %w", ErrScriptFailed, err),
	}
}

// exportRecord converts the value returned by transform into a record.
// Only plain objects are accepted.
func exportRecord(vm *goja.Runtime, value goja.Value, row int) (map[string]any, error) {
	if obj, ok := value.(*goja.Object); ok && obj.ClassName() == "Array" {
		return nil, &ScriptError{
			Code:    ErrCodeExecutionFailed,
			Message: fmt.Sprintf("script at row %d returned an array, transform must return an object", row),
			Row:     row,
			Err:     ErrScriptFailed,
		}
	}
	if rec, ok := value.Export().(map[string]any); ok {
		return rec, nil
	}
	var rec map[string]any
	if err := vm.ExportTo(value, &rec); err != nil || rec == nil {
		return nil, &ScriptError{
			Code:    ErrCodeExecutionFailed,
			Message: fmt.Sprintf("script at row %d returned %T, transform must return an object", row, value.Export()),
			Row:     row,
			Err:     ErrScriptFailed,
		}
	}
	return rec, nil
}

var _ Module = (*ScriptModule)(nil)
