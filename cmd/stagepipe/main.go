// Package main provides the CLI entry point for stagepipe.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagepipe/stagepipe/internal/catalog"
	"github.com/stagepipe/stagepipe/internal/cli"
	"github.com/stagepipe/stagepipe/internal/config"
	"github.com/stagepipe/stagepipe/internal/factory"
	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/runtime"
	"github.com/stagepipe/stagepipe/internal/scheduler"
	"github.com/stagepipe/stagepipe/internal/staging"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

// defaultRunsShown is how many runs `artifacts --runs` lists.
const defaultRunsShown = 10

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds the global flags and the exit code of the command that ran.
type app struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string

	steps    []string
	showRuns bool
	cronExpr string
	debounce time.Duration

	stdout   io.Writer
	stderr   io.Writer
	exitCode int
}

// run executes the CLI with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return ExitRuntimeError
	}
	return a.exitCode
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stagepipe",
		Short: "stagepipe - staged batch pipeline runner",
		Long: `stagepipe runs staged batch pipelines over local files.

Datasets are extracted from source files into raw artifacts, transformed
through numbered stages (normalize 010_, filter_last_weeks 021_,
filter_by_values 022_) and optionally exported as CSV.

Examples:
  # Validate a configuration file
  stagepipe validate pipeline.yaml

  # Run every phase
  stagepipe run pipeline.yaml

  # Rerun only the window filter
  stagepipe transform --steps filter_last_weeks pipeline.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setupLogging()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logger.CloseLogFile()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	flags.StringVar(&a.logFormat, "log-format", "json", "Log format: json or human")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")

	validateCmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a pipeline configuration file",
		Long: `Validate a pipeline configuration file against the schema and check
that every dataset it references is defined.

Supports both JSON and YAML formats. The format is auto-detected
based on file extension (.json, .yaml, .yml) or content.

Exit codes:
  0 - Configuration is valid
  1 - Validation errors (schema violations, unknown datasets)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		Run:  a.runValidate,
	}

	extractCmd := &cobra.Command{
		Use:   "extract <config-file>",
		Short: "Read source files into raw artifacts",
		Args:  cobra.ExactArgs(1),
		Run: a.phase(func(ctx context.Context, o *runtime.Orchestrator) (*pipeline.RunResult, error) {
			return o.Extract(ctx)
		}),
	}

	transformCmd := &cobra.Command{
		Use:   "transform <config-file>",
		Short: "Run transform steps over staged artifacts",
		Long: `Run transform steps over staged artifacts.

Steps always run in pipeline order: normalize, filter_last_weeks,
filter_by_values. --steps selects which of them run; the others are
skipped. Without --steps the steps listed in the configuration run.`,
		Args: cobra.ExactArgs(1),
		Run:  a.runTransform,
	}
	transformCmd.Flags().StringSliceVar(&a.steps, "steps", nil, "Comma-separated steps to run")

	exportCmd := &cobra.Command{
		Use:   "export <config-file>",
		Short: "Write the configured export stage as CSV",
		Args:  cobra.ExactArgs(1),
		Run: a.phase(func(ctx context.Context, o *runtime.Orchestrator) (*pipeline.RunResult, error) {
			return o.Export(ctx)
		}),
	}

	runCmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run extract, transform and export",
		Long: `Run every phase of the pipeline: extract, transform with the
configured steps, then export when export.enabled is set.

The configuration file is first validated against the schema.
If validation fails, the pipeline will not be executed.

Exit codes:
  0 - Pipeline executed successfully
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors`,
		Args: cobra.ExactArgs(1),
		Run:  a.runAll,
	}

	artifactsCmd := &cobra.Command{
		Use:   "artifacts <config-file>",
		Short: "List stage artifacts",
		Long: `List the latest artifact of every dataset and stage.

With a catalog configured the listing comes from the run ledger;
otherwise the raw and staging folders are scanned.`,
		Args: cobra.ExactArgs(1),
		Run:  a.runArtifacts,
	}
	artifactsCmd.Flags().BoolVar(&a.showRuns, "runs", false, "Also list recent runs from the catalog")

	scheduleCmd := &cobra.Command{
		Use:   "schedule <config-file>",
		Short: "Run the whole pipeline on a CRON schedule",
		Long: `Run the whole pipeline every time the CRON expression fires, until
interrupted. A trigger that fires while the previous run is still going
is skipped.

Accepts 5-field expressions, 6-field expressions with leading seconds,
and descriptors such as @daily or @every 1h.

Examples:
  stagepipe schedule --cron "0 6 * * 1-5" pipeline.yaml`,
		Args: cobra.ExactArgs(1),
		Run:  a.runSchedule,
	}
	scheduleCmd.Flags().StringVar(&a.cronExpr, "cron", "", "CRON expression (required)")
	_ = scheduleCmd.MarkFlagRequired("cron")

	watchCmd := &cobra.Command{
		Use:   "watch <config-file>",
		Short: "Run the whole pipeline whenever a source file changes",
		Long: `Watch the source file of every dataset and run the whole pipeline
after one of them is written, until interrupted. Changes arriving during a
run start one more run once it finishes.`,
		Args: cobra.ExactArgs(1),
		Run:  a.runWatch,
	}
	watchCmd.Flags().DurationVar(&a.debounce, "debounce", scheduler.DefaultDebounce, "Quiet period after the last change before a run")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run:   a.runVersion,
	}

	root.AddCommand(validateCmd, extractCmd, transformCmd, exportCmd, runCmd, artifactsCmd, scheduleCmd, watchCmd, versionCmd)
	return root
}

func (a *app) setupLogging() error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	} else if a.quiet {
		level = slog.LevelError
	}
	format, err := logger.ParseFormat(a.logFormat)
	if err != nil {
		return err
	}
	if a.logFile != "" {
		return logger.SetLogFile(a.logFile, level, format)
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

func (a *app) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet}
}

// load parses and validates the configuration file. On failure it prints the
// errors, sets the exit code and returns nil.
func (a *app) load(path string) *config.Result {
	result := config.ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintParseErrors(a.stderr, result.ParseErrors, a.verbose)
		a.exitCode = ExitParseError
		return nil
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintValidationErrors(a.stderr, result.ValidationErrors, a.output())
		a.exitCode = ExitValidationError
		return nil
	}
	return result
}

func (a *app) runValidate(_ *cobra.Command, args []string) {
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Validating configuration: %s\n", args[0])
	}
	result := a.load(args[0])
	if result == nil {
		return
	}
	if !a.quiet {
		fmt.Fprintf(a.stdout, "✓ Configuration is valid (format: %s)\n", result.Format)
		if a.verbose {
			cli.PrintConfigSummary(a.stdout, result.Pipeline)
		}
	}
	a.exitCode = ExitSuccess
}

// orchestrator builds the orchestrator of cfg and opens its catalog when one
// is configured. The returned function releases the catalog.
func (a *app) orchestrator(cfg *pipeline.Config) (*runtime.Orchestrator, func(), error) {
	release := func() {}
	var opts []runtime.Option
	if cfg.Catalog != "" {
		cat, err := catalog.Open(cfg.Catalog)
		if err != nil {
			return nil, release, err
		}
		release = func() { _ = cat.Close() }
		opts = append(opts, runtime.WithCatalog(cat))
	}
	o, err := runtime.NewOrchestrator(cfg, opts...)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return o, release, nil
}

type phaseFunc func(ctx context.Context, o *runtime.Orchestrator) (*pipeline.RunResult, error)

// phase returns a cobra Run function executing fn on the loaded configuration.
func (a *app) phase(fn phaseFunc) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		result := a.load(args[0])
		if result == nil {
			return
		}
		o, release, err := a.orchestrator(result.Pipeline)
		if err != nil {
			fmt.Fprintf(a.stderr, "✗ Failed to open catalog: %v\n", err)
			a.exitCode = ExitRuntimeError
			return
		}
		defer release()

		res, err := fn(cmd.Context(), o)
		cli.PrintRunResult(a.stdout, a.stderr, res, err, a.output())
		if err != nil {
			a.exitCode = ExitRuntimeError
			return
		}
		a.exitCode = ExitSuccess
	}
}

func (a *app) runTransform(cmd *cobra.Command, args []string) {
	var steps []runtime.Step
	explicit := cmd.Flags().Changed("steps")
	if explicit {
		var err error
		if steps, err = runtime.ParseSteps(a.steps); err != nil {
			fmt.Fprintf(a.stderr, "✗ %v\n", err)
			a.exitCode = ExitValidationError
			return
		}
	}

	a.phase(func(ctx context.Context, o *runtime.Orchestrator) (*pipeline.RunResult, error) {
		if !explicit {
			configured, err := o.ConfiguredSteps()
			if err != nil {
				return nil, err
			}
			steps = configured
		}
		return o.Transform(ctx, steps)
	})(cmd, args)
}

func (a *app) runAll(cmd *cobra.Command, args []string) {
	result := a.load(args[0])
	if result == nil {
		return
	}
	o, release, err := a.orchestrator(result.Pipeline)
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to open catalog: %v\n", err)
		a.exitCode = ExitRuntimeError
		return
	}
	defer release()

	if err := a.runPipeline(cmd.Context(), result.Pipeline.Name, o); err != nil {
		a.exitCode = ExitRuntimeError
		return
	}
	a.exitCode = ExitSuccess
}

// runPipeline runs every phase and prints one result per phase.
func (a *app) runPipeline(ctx context.Context, name string, o *runtime.Orchestrator) error {
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Running pipeline: %s\n", name)
	}
	results, err := o.RunAll(ctx)
	for i, res := range results {
		var phaseErr error
		if i == len(results)-1 {
			phaseErr = err
		}
		cli.PrintRunResult(a.stdout, a.stderr, res, phaseErr, a.output())
	}
	if err != nil && len(results) == 0 {
		cli.PrintRunResult(a.stdout, a.stderr, nil, err, a.output())
	}
	return err
}

func (a *app) runSchedule(cmd *cobra.Command, args []string) {
	if err := scheduler.ValidateCronExpression(a.cronExpr); err != nil {
		fmt.Fprintf(a.stderr, "✗ %v\n", err)
		a.exitCode = ExitValidationError
		return
	}
	result := a.load(args[0])
	if result == nil {
		return
	}
	cfg := result.Pipeline
	o, release, err := a.orchestrator(cfg)
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to open catalog: %v\n", err)
		a.exitCode = ExitRuntimeError
		return
	}
	defer release()

	s := scheduler.New()
	job := func(ctx context.Context) error { return a.runPipeline(ctx, cfg.Name, o) }
	if err := s.Register(cfg.Name, a.cronExpr, job); err != nil {
		fmt.Fprintf(a.stderr, "✗ %v\n", err)
		a.exitCode = ExitValidationError
		return
	}
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Scheduled pipeline %s (%s), press Ctrl+C to stop\n", cfg.Name, a.cronExpr)
	}
	// A failed scheduled run is logged and the schedule keeps going.
	if err := s.Run(cmd.Context()); err != nil {
		fmt.Fprintf(a.stderr, "✗ Scheduler did not stop cleanly: %v\n", err)
		a.exitCode = ExitRuntimeError
		return
	}
	a.exitCode = ExitSuccess
}

func (a *app) runWatch(cmd *cobra.Command, args []string) {
	result := a.load(args[0])
	if result == nil {
		return
	}
	cfg := result.Pipeline

	var paths []string
	for _, name := range cfg.DatasetOrder {
		path, err := factory.SourcePath(cfg.Folders.External, cfg.Datasets[name])
		if err != nil {
			fmt.Fprintf(a.stderr, "✗ Dataset %s: %v\n", name, err)
			a.exitCode = ExitValidationError
			return
		}
		paths = append(paths, path)
	}

	o, release, err := a.orchestrator(cfg)
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to open catalog: %v\n", err)
		a.exitCode = ExitRuntimeError
		return
	}
	defer release()

	job := func(ctx context.Context) error { return a.runPipeline(ctx, cfg.Name, o) }
	w, err := scheduler.NewWatcher(cfg.Name, paths, job, a.debounce)
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ %v\n", err)
		a.exitCode = ExitValidationError
		return
	}
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Watching %d source file(s) of %s, press Ctrl+C to stop\n", len(paths), cfg.Name)
	}
	if err := w.Run(cmd.Context()); err != nil {
		fmt.Fprintf(a.stderr, "✗ Watch failed: %v\n", err)
		a.exitCode = ExitRuntimeError
		return
	}
	a.exitCode = ExitSuccess
}

func (a *app) runArtifacts(cmd *cobra.Command, args []string) {
	result := a.load(args[0])
	if result == nil {
		return
	}
	cfg := result.Pipeline
	ctx := cmd.Context()

	var artifacts []catalog.Artifact
	var runs []catalog.Run
	if cfg.Catalog != "" {
		cat, err := catalog.Open(cfg.Catalog)
		if err != nil {
			fmt.Fprintf(a.stderr, "✗ Failed to open catalog: %v\n", err)
			a.exitCode = ExitRuntimeError
			return
		}
		defer func() { _ = cat.Close() }()
		if artifacts, err = cat.LatestArtifacts(ctx); err != nil {
			fmt.Fprintf(a.stderr, "✗ Failed to read catalog: %v\n", err)
			a.exitCode = ExitRuntimeError
			return
		}
		if a.showRuns {
			if runs, err = cat.Runs(ctx, defaultRunsShown); err != nil {
				fmt.Fprintf(a.stderr, "✗ Failed to read catalog: %v\n", err)
				a.exitCode = ExitRuntimeError
				return
			}
		}
	} else {
		var err error
		if artifacts, err = scanArtifacts(ctx, cfg); err != nil {
			fmt.Fprintf(a.stderr, "✗ Failed to list artifacts: %v\n", err)
			a.exitCode = ExitRuntimeError
			return
		}
	}

	cli.PrintArtifacts(a.stdout, artifacts)
	if a.showRuns {
		fmt.Fprintln(a.stdout)
		cli.PrintRuns(a.stdout, runs)
	}
	a.exitCode = ExitSuccess
}

// scanArtifacts lists the raw and staging folders and reads each artifact
// for its shape.
func scanArtifacts(ctx context.Context, cfg *pipeline.Config) ([]catalog.Artifact, error) {
	store := staging.NewStore()
	var out []catalog.Artifact
	for _, folder := range []string{cfg.Folders.Raw, cfg.Folders.Staging} {
		listed, err := store.List(folder)
		if err != nil {
			return nil, err
		}
		for _, a := range listed {
			t, err := store.Read(ctx, folder, a.Stage, a.Dataset)
			if err != nil {
				return nil, err
			}
			var written time.Time
			if info, err := os.Stat(a.Path); err == nil {
				written = info.ModTime()
			}
			out = append(out, catalog.Artifact{
				Dataset:   a.Dataset,
				StageCode: a.Stage.Code(),
				Stage:     a.Stage.Label,
				Path:      a.Path,
				Rows:      t.NumRows(),
				Columns:   t.NumCols(),
				WrittenAt: written,
			})
		}
	}
	return out, nil
}

func (a *app) runVersion(_ *cobra.Command, _ []string) {
	fmt.Fprintf(a.stdout, "Version: %s\n", version)
	fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
	fmt.Fprintf(a.stdout, "Build Date: %s\n", buildDate)
	a.exitCode = ExitSuccess
}
