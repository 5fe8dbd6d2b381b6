// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across phases.
//
// Helpers cover run start/end, step start/end, table summaries and error
// logging. All helpers use structured fields with snake_case names.
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

// currentFormat remembers the console format so SetLevel keeps it.
var currentFormat = FormatJSON

func init() {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetLevel configures the logging level, keeping the current format.
func SetLevel(level slog.Level) {
	SetLevelAndFormat(level, currentFormat)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// WithRun returns a logger with run context.
func WithRun(runID string) *slog.Logger {
	return Logger.With("run_id", runID)
}

// WithDataset returns a logger with dataset context.
func WithDataset(dataset, stageCode string) *slog.Logger {
	return Logger.With("dataset", dataset, "stage_code", stageCode)
}

// =============================================================================
// Execution Context Types
// =============================================================================

// ExecutionContext contains context information for run logging.
type ExecutionContext struct {
	// RunID is the unique identifier of the run (required)
	RunID string
	// PipelineName is the human-readable name of the pipeline
	PipelineName string
	// Phase is the pipeline phase (extract, transform, export)
	Phase string
	// Step is the current step (normalize, filter_last_weeks, ...)
	Step string
	// Dataset is the dataset being processed
	Dataset string
	// StageCode is the stage code of the artifact being written
	StageCode string
}

// ExecutionError contains structured error information for logging.
type ExecutionError struct {
	// Code is the error code (e.g., STEP_FAILED, READ_FAILED)
	Code string
	// Message is the human-readable error message
	Message string
}

// ErrorContext contains structured context for error logging.
type ErrorContext struct {
	RunID        string
	PipelineName string
	Phase        string
	Step         string
	Dataset      string

	ErrorCode     string
	ErrorCategory string
	ErrorMessage  string
	Err           error

	Path     string
	RowCount int
	Duration time.Duration

	Extra map[string]interface{}
}

// ExecutionMetrics contains run-level metrics.
type ExecutionMetrics struct {
	TotalDuration    time.Duration
	StepsExecuted    int
	ArtifactsWritten int
	RowsRead         int
	RowsWritten      int
}

// TableSummary describes the shape of a table for logging.
type TableSummary struct {
	Rows       int
	Columns    []string
	NullCounts map[string]int
}

// =============================================================================
// Execution Context Helpers
// =============================================================================

// WithExecution returns a logger with execution context attached.
// Only non-empty fields are included in the log output.
func WithExecution(ctx ExecutionContext) *slog.Logger {
	return Logger.With(buildContextAttrs(ctx)...)
}

// LogExecutionStart logs the start of a phase run.
func LogExecutionStart(ctx ExecutionContext) {
	Logger.Info("execution started", buildContextAttrs(ctx)...)
}

// LogExecutionEnd logs the completion of a phase run.
func LogExecutionEnd(ctx ExecutionContext, status string, artifactsWritten int, duration time.Duration) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.String("status", status),
		slog.Int("artifacts_written", artifactsWritten),
		slog.Duration("duration", duration),
	)
	Logger.Info("execution completed", attrs...)
}

// LogStageStart logs the start of a step on a dataset.
func LogStageStart(ctx ExecutionContext) {
	Logger.Info("stage started", buildContextAttrs(ctx)...)
}

// LogStageEnd logs the completion of a step on a dataset.
// If err is non-nil, logs as an error with error details.
func LogStageEnd(ctx ExecutionContext, rowCount int, duration time.Duration, err *ExecutionError) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Int("row_count", rowCount),
		slog.Duration("duration", duration),
	)

	if err != nil {
		attrs = append(attrs,
			slog.String("error_code", err.Code),
			slog.String("error", err.Message),
		)
		Logger.Error("stage failed", attrs...)
		return
	}
	Logger.Info("stage completed", attrs...)
}

// LogMetrics logs run metrics.
func LogMetrics(ctx ExecutionContext, metrics ExecutionMetrics) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Duration("total_duration", metrics.TotalDuration),
		slog.Int("steps_executed", metrics.StepsExecuted),
		slog.Int("artifacts_written", metrics.ArtifactsWritten),
		slog.Int("rows_read", metrics.RowsRead),
		slog.Int("rows_written", metrics.RowsWritten),
	)
	Logger.Info("execution metrics", attrs...)
}

// LogTableSummary logs shape, columns and null counts of a table at debug level.
func LogTableSummary(ctx ExecutionContext, summary TableSummary) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Int("rows", summary.Rows),
		slog.Int("columns", len(summary.Columns)),
		slog.String("column_names", strings.Join(summary.Columns, ",")),
	)
	if len(summary.NullCounts) > 0 {
		keys := make([]string, 0, len(summary.NullCounts))
		for k := range summary.NullCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		nulls := make([]string, 0, len(keys))
		for _, k := range keys {
			nulls = append(nulls, fmt.Sprintf("%s=%d", k, summary.NullCounts[k]))
		}
		attrs = append(attrs, slog.String("null_counts", strings.Join(nulls, ",")))
	}
	Logger.Debug("table summary", attrs...)
}

// LogError logs an error with full execution context.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", errCtx.RunID))
	}
	if errCtx.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", errCtx.PipelineName))
	}
	if errCtx.Phase != "" {
		attrs = append(attrs, slog.String("phase", errCtx.Phase))
	}
	if errCtx.Step != "" {
		attrs = append(attrs, slog.String("step", errCtx.Step))
	}
	if errCtx.Dataset != "" {
		attrs = append(attrs, slog.String("dataset", errCtx.Dataset))
	}
	if errCtx.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", errCtx.ErrorCode))
	}
	if errCtx.ErrorCategory != "" {
		attrs = append(attrs, slog.String("error_category", errCtx.ErrorCategory))
	}
	if errCtx.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", errCtx.ErrorMessage))
	}
	if errCtx.Err != nil {
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)))

		chain := []string{errCtx.Err.Error()}
		for current := errors.Unwrap(errCtx.Err); current != nil; current = errors.Unwrap(current) {
			chain = append(chain, current.Error())
		}
		if len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.Path != "" {
		attrs = append(attrs, slog.String("path", errCtx.Path))
	}
	if errCtx.RowCount > 0 {
		attrs = append(attrs, slog.Int("row_count", errCtx.RowCount))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

// buildContextAttrs builds slog attributes from an ExecutionContext.
// Only non-empty fields are included, run_id is always present.
func buildContextAttrs(ctx ExecutionContext) []any {
	attrs := make([]any, 0, 6)
	attrs = append(attrs, slog.String("run_id", ctx.RunID))

	if ctx.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", ctx.PipelineName))
	}
	if ctx.Phase != "" {
		attrs = append(attrs, slog.String("phase", ctx.Phase))
	}
	if ctx.Step != "" {
		attrs = append(attrs, slog.String("step", ctx.Step))
	}
	if ctx.Dataset != "" {
		attrs = append(attrs, slog.String("dataset", ctx.Dataset))
	}
	if ctx.StageCode != "" {
		attrs = append(attrs, slog.String("stage_code", ctx.StageCode))
	}
	return attrs
}

// =============================================================================
// Human-Readable Log Format Support
// =============================================================================

// OutputFormat represents the log output format
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "human", "text":
		return FormatHuman, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", name)
	}
}

// SetFormat sets the log output format at info level.
func SetFormat(format OutputFormat) {
	SetLevelAndFormat(slog.LevelInfo, format)
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	currentFormat = format
	Logger = slog.New(newConsoleHandler(os.Stdout, level, format))
}

func newConsoleHandler(w io.Writer, level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{
			Level:     level,
			UseColors: isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// isTerminal returns true if the writer is a terminal (supports colors)
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that outputs human-readable log messages.
type HumanHandler struct {
	opts   HumanHandlerOptions
	writer io.Writer
	attrs  []slog.Attr
	groups []string
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{
		opts:   *opts,
		writer: w,
	}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// maxInlineAttrs caps the attributes printed on one line.
const maxInlineAttrs = 6

// Handle outputs a log record in human-readable format.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(h.levelPrefix(r.Level, r.Message))
	sb.WriteString(" ")
	sb.WriteString(r.Message)

	var inline []string
	r.Attrs(func(a slog.Attr) bool {
		inline = append(inline, formatAttr(a))
		return true
	})
	for _, a := range h.attrs {
		inline = append(inline, formatAttr(a))
	}

	if len(inline) > 0 {
		n := len(inline)
		if n > maxInlineAttrs {
			n = maxInlineAttrs
		}
		sb.WriteString(" ")
		sb.WriteString(strings.Join(inline[:n], " "))
		if len(inline) > maxInlineAttrs {
			sb.WriteString(fmt.Sprintf(" (+%d more)", len(inline)-maxInlineAttrs))
		}
	}

	sb.WriteString("\n")
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &HumanHandler{opts: h.opts, writer: h.writer, attrs: merged, groups: h.groups}
}

// WithGroup returns a new handler with the given group name.
func (h *HumanHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string{}, h.groups...), name)
	return &HumanHandler{opts: h.opts, writer: h.writer, attrs: h.attrs, groups: groups}
}

// levelPrefix returns the symbol for a level, ✓ for completion messages.
func (h *HumanHandler) levelPrefix(level slog.Level, message string) string {
	const (
		colorReset  = "\033[0m"
		colorRed    = "\033[31m"
		colorYellow = "\033[33m"
		colorGreen  = "\033[32m"
		colorCyan   = "\033[36m"
	)

	lower := strings.ToLower(message)
	success := strings.Contains(lower, "completed") || strings.Contains(lower, "saved") ||
		strings.Contains(lower, "loaded")

	var prefix, color string
	switch {
	case level >= slog.LevelError:
		prefix, color = "✗", colorRed
	case level >= slog.LevelWarn:
		prefix, color = "⚠", colorYellow
	case level >= slog.LevelInfo && success:
		prefix, color = "✓", colorGreen
	case level >= slog.LevelInfo:
		prefix, color = "ℹ", colorCyan
	default:
		prefix, color = "·", colorReset
	}

	if h.opts.UseColors {
		return color + prefix + colorReset
	}
	return prefix
}

// formatAttr formats a single attribute for display.
func formatAttr(a slog.Attr) string {
	switch v := a.Value.Any().(type) {
	case time.Duration:
		return fmt.Sprintf("%s=%s", a.Key, FormatDuration(v))
	case float64:
		return fmt.Sprintf("%s=%.2f", a.Key, v)
	default:
		return fmt.Sprintf("%s=%v", a.Key, v)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// FormatMetricsHuman formats run metrics in a human-readable way.
func FormatMetricsHuman(metrics ExecutionMetrics) string {
	return fmt.Sprintf("Wrote %d artifacts (%d rows) from %d rows in %s",
		metrics.ArtifactsWritten, metrics.RowsWritten, metrics.RowsRead,
		FormatDuration(metrics.TotalDuration))
}

// =============================================================================
// Log File Output Support
// =============================================================================

// logFile holds the currently open log file (if any)
var logFile *os.File

// maxLogFileSize is the size above which the log file is rotated (10MB)
const maxLogFileSize = 10 * 1024 * 1024

// rotateLogFile renames the log file with a timestamp suffix when it is too large.
func rotateLogFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking log file size: %w", err)
	}
	if info.Size() < maxLogFileSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, rotated); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	return nil
}

// SetLogFile configures logging to write to both stdout and the given file.
// File logs are always JSON.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	if err := rotateLogFile(path); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f
	currentFormat = consoleFormat

	Logger = slog.New(&dualHandler{
		console: newConsoleHandler(os.Stdout, level, consoleFormat),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})

	Info("log file opened",
		slog.String("path", path),
		slog.String("console_format", formatName(consoleFormat)),
	)
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Sync(); err != nil {
		Warn("failed to sync log file", slog.String("error", err.Error()))
	}
	if err := logFile.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
	logFile = nil
}

func formatName(f OutputFormat) string {
	if f == FormatHuman {
		return "human"
	}
	return "json"
}

// dualHandler writes every record to both a console and a file handler.
type dualHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (d *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.console.Enabled(ctx, level) || d.file.Enabled(ctx, level)
}

func (d *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	if d.console.Enabled(ctx, r.Level) {
		if err := d.console.Handle(ctx, r); err != nil {
			return err
		}
	}
	if d.file.Enabled(ctx, r.Level) {
		if err := d.file.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (d *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{console: d.console.WithAttrs(attrs), file: d.file.WithAttrs(attrs)}
}

func (d *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{console: d.console.WithGroup(name), file: d.file.WithGroup(name)}
}
