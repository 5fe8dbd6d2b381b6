// Package runtime provides the pipeline execution engine.
// It sequences the extract, transform and export phases and is the only
// package that knows which stage each step reads and writes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stagepipe/stagepipe/internal/catalog"
	"github.com/stagepipe/stagepipe/internal/factory"
	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/modules/filter"
	"github.com/stagepipe/stagepipe/internal/modules/input"
	"github.com/stagepipe/stagepipe/internal/registry"
	"github.com/stagepipe/stagepipe/internal/stage"
	"github.com/stagepipe/stagepipe/internal/staging"
	"github.com/stagepipe/stagepipe/internal/table"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// DefaultSeparator joins nested key paths when the configuration sets none.
const DefaultSeparator = "_"

// defaultDateColumns is the date column of the known datasets. Datasets with
// neither an entry here nor a configured dateColumn use filter.ResolveDateColumn.
var defaultDateColumns = map[string]string{
	"prints": "day",
	"taps":   "day",
	"pays":   "pay_date",
}

// stepHandler executes one transform step for every dataset it applies to.
type stepHandler func(o *Orchestrator, ctx context.Context, r *run) error

var stepHandlers = [numSteps]stepHandler{
	StepNormalize:       (*Orchestrator).normalize,
	StepFilterLastWeeks: (*Orchestrator).filterLastWeeks,
	StepFilterByValues:  (*Orchestrator).filterByValues,
}

// Orchestrator runs the phases of one pipeline configuration.
//
// Every phase is sequential: a dataset's artifact is fully written before the
// next dataset or step starts, and the first error aborts the phase. Nothing
// is retried.
type Orchestrator struct {
	cfg     *pipeline.Config
	store   *staging.Store
	catalog *catalog.Catalog
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog records runs and artifacts in c.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithStore replaces the staging store.
func WithStore(s *staging.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator for cfg.
func NewOrchestrator(cfg *pipeline.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, ErrNilPipeline
	}
	o := &Orchestrator{
		cfg:   cfg,
		store: staging.NewStore(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run holds the state of one phase execution.
type run struct {
	result   *pipeline.RunResult
	exec     logger.ExecutionContext
	step     string
	dataset  string
	metrics  logger.ExecutionMetrics
	recorded bool
}

// stageContext returns the logging context of the current step on dataset.
func (r *run) stageContext(dataset string, st stage.Stage) logger.ExecutionContext {
	ctx := r.exec
	ctx.Step = r.step
	ctx.Dataset = dataset
	ctx.StageCode = st.Code()
	return ctx
}

// ConfiguredSteps returns the transform steps listed in the configuration.
// A configuration that lists none runs every step, except filter_by_values
// when there is no membership section.
func (o *Orchestrator) ConfiguredSteps() ([]Step, error) {
	if o.cfg.Steps == nil {
		if o.cfg.Membership == nil {
			return []Step{StepNormalize, StepFilterLastWeeks}, nil
		}
		return AllSteps(), nil
	}
	return ParseSteps(o.cfg.Steps)
}

// Extract reads every configured source file with the reader registered for
// its format and writes the raw artifact of each dataset.
func (o *Orchestrator) Extract(ctx context.Context) (*pipeline.RunResult, error) {
	return o.execute(ctx, pipeline.PhaseExtract, o.extract)
}

// Transform runs steps in pipeline order. Steps not listed are skipped, the
// order they are given in is ignored, and the first failing step aborts the run.
func (o *Orchestrator) Transform(ctx context.Context, steps []Step) (*pipeline.RunResult, error) {
	return o.execute(ctx, pipeline.PhaseTransform, func(ctx context.Context, r *run) error {
		for _, s := range steps {
			if !s.valid() {
				return fmt.Errorf("%w: %v", ErrUnknownStep, s)
			}
		}
		for _, s := range ordered(steps) {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.step = s.String()
			r.dataset = ""
			if err := stepHandlers[s](o, ctx, r); err != nil {
				return err
			}
			r.metrics.StepsExecuted++
		}
		return nil
	})
}

// Export writes the configured export stage of each dataset as CSV.
func (o *Orchestrator) Export(ctx context.Context) (*pipeline.RunResult, error) {
	return o.execute(ctx, pipeline.PhaseExport, o.export)
}

// RunAll runs extract, transform with the configured steps and, when enabled,
// export. It stops after the first failing phase and returns the results of
// the phases that ran.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*pipeline.RunResult, error) {
	steps, err := o.ConfiguredSteps()
	if err != nil {
		return nil, Classify(err)
	}

	phases := []func(context.Context) (*pipeline.RunResult, error){
		o.Extract,
		func(ctx context.Context) (*pipeline.RunResult, error) { return o.Transform(ctx, steps) },
	}
	if o.cfg.Export.Enabled {
		phases = append(phases, o.Export)
	}

	results := make([]*pipeline.RunResult, 0, len(phases))
	for _, phase := range phases {
		result, err := phase(ctx)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// execute wraps a phase body with run bookkeeping: id, catalog entry, logs,
// metrics and error classification. The returned error is a
// *errhandling.ClassifiedError.
func (o *Orchestrator) execute(ctx context.Context, phase string, body func(context.Context, *run) error) (*pipeline.RunResult, error) {
	r := &run{result: &pipeline.RunResult{
		RunID:     uuid.New().String(),
		Pipeline:  o.cfg.Name,
		Phase:     phase,
		StartedAt: o.now(),
		Steps:     []pipeline.StepResult{},
	}}

	err := o.startRun(ctx, r)
	r.exec = logger.ExecutionContext{RunID: r.result.RunID, PipelineName: o.cfg.Name, Phase: phase}
	if err == nil {
		logger.LogExecutionStart(r.exec)
		err = body(ctx, r)
	}

	r.result.CompletedAt = o.now()
	r.metrics.TotalDuration = r.result.Duration()
	r.metrics.ArtifactsWritten = r.result.ArtifactsWritten()

	if err != nil {
		classified := Classify(err)
		r.result.Status = pipeline.StatusError
		r.result.Error = buildRunError(classified, r.step, r.dataset)
		logger.LogError("run failed", logger.ErrorContext{
			RunID:         r.result.RunID,
			PipelineName:  o.cfg.Name,
			Phase:         phase,
			Step:          r.step,
			Dataset:       r.dataset,
			ErrorCode:     classified.Code,
			ErrorCategory: string(classified.Category),
			ErrorMessage:  classified.Message,
			Err:           err,
			Duration:      r.metrics.TotalDuration,
		})
		err = classified
	} else {
		r.result.Status = pipeline.StatusSuccess
		logger.LogMetrics(r.exec, r.metrics)
	}
	logger.LogExecutionEnd(r.exec, r.result.Status, r.metrics.ArtifactsWritten, r.metrics.TotalDuration)

	o.finishRun(ctx, r)
	return r.result, err
}

func (o *Orchestrator) startRun(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.catalog == nil {
		return nil
	}
	rec, err := o.catalog.StartRun(ctx, o.cfg.Name, r.result.Phase)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogFailed, err)
	}
	r.result.RunID = rec.ID
	r.recorded = true
	return nil
}

// finishRun stores the final status even when ctx was canceled.
func (o *Orchestrator) finishRun(ctx context.Context, r *run) {
	if !r.recorded {
		return
	}
	var msg string
	if r.result.Error != nil {
		msg = r.result.Error.Message
	}
	if err := o.catalog.FinishRun(context.WithoutCancel(ctx), r.result.RunID, r.result.Status, msg); err != nil {
		logger.Warn("failed to finish catalog run",
			slog.String("run_id", r.result.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) recordArtifact(ctx context.Context, r *run, a catalog.Artifact) error {
	if o.catalog == nil {
		return nil
	}
	a.RunID = r.result.RunID
	a.WrittenAt = o.now().UTC()
	if err := o.catalog.RecordArtifact(ctx, a); err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogFailed, err)
	}
	return nil
}

// track runs fn for one dataset of the current step. It logs the start and
// end of the work and appends the step result.
func (o *Orchestrator) track(ctx context.Context, r *run, dataset string, st stage.Stage, fn func() (pipeline.StepResult, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.dataset = dataset
	exec := r.stageContext(dataset, st)
	logger.LogStageStart(exec)

	started := o.now()
	res, err := fn()
	elapsed := o.now().Sub(started)
	if err != nil {
		logger.LogStageEnd(exec, 0, elapsed, &logger.ExecutionError{
			Code:    Classify(err).Code,
			Message: err.Error(),
		})
		return err
	}

	res.Step = r.step
	res.Dataset = dataset
	res.Duration = elapsed
	r.result.Steps = append(r.result.Steps, res)
	r.metrics.RowsRead += res.InputRows
	r.metrics.RowsWritten += res.OutputRows
	logger.LogStageEnd(exec, res.OutputRows, elapsed, nil)
	return nil
}

// folder returns the folder holding artifacts of st.
func (o *Orchestrator) folder(st stage.Stage) string {
	if st == stage.Raw {
		return o.cfg.Folders.Raw
	}
	return o.cfg.Folders.Staging
}

func (o *Orchestrator) read(ctx context.Context, r *run, st stage.Stage, dataset string) (*table.Table, error) {
	t, err := o.store.Read(ctx, o.folder(st), st, dataset)
	if err != nil {
		return nil, err
	}
	s := t.Summary()
	logger.LogTableSummary(r.stageContext(dataset, st), logger.TableSummary{
		Rows:       s.Rows,
		Columns:    s.Columns,
		NullCounts: s.NullCounts,
	})
	return t, nil
}

func (o *Orchestrator) persist(ctx context.Context, r *run, dataset string, st stage.Stage, t *table.Table, inputRows int) (pipeline.StepResult, error) {
	a, err := o.store.Write(ctx, t, o.folder(st), st, dataset)
	if err != nil {
		return pipeline.StepResult{}, err
	}
	err = o.recordArtifact(ctx, r, catalog.Artifact{
		Dataset:   dataset,
		StageCode: st.Code(),
		Stage:     st.Label,
		Path:      a.Path,
		Rows:      a.Rows,
		Columns:   a.Columns,
	})
	if err != nil {
		return pipeline.StepResult{}, err
	}
	return pipeline.StepResult{
		InputRows:  inputRows,
		OutputRows: a.Rows,
		Columns:    a.Columns,
		Artifact:   a.Path,
	}, nil
}

// transformDataset reads the from artifact of dataset, runs m on it and
// writes the to artifact. The from artifact is never modified.
func (o *Orchestrator) transformDataset(ctx context.Context, r *run, dataset string, from, to stage.Stage, m filter.Module) error {
	return o.track(ctx, r, dataset, to, func() (pipeline.StepResult, error) {
		t, err := o.read(ctx, r, from, dataset)
		if err != nil {
			return pipeline.StepResult{}, err
		}
		out, err := m.Process(ctx, t)
		if err != nil {
			return pipeline.StepResult{}, fmt.Errorf("%s %s: %w", r.step, dataset, err)
		}
		return o.persist(ctx, r, dataset, to, out, t.NumRows())
	})
}

// bind makes dataset the current dataset of r and returns its configuration.
func (o *Orchestrator) bind(r *run, dataset string) (pipeline.DatasetConfig, error) {
	r.dataset = dataset
	ds, ok := o.cfg.Datasets[dataset]
	if !ok {
		return pipeline.DatasetConfig{}, fmt.Errorf("%w: %q", ErrUnknownDataset, dataset)
	}
	return ds, nil
}

// datasetNames returns the configured datasets in processing order.
func (o *Orchestrator) datasetNames() []string {
	if len(o.cfg.DatasetOrder) > 0 {
		return o.cfg.DatasetOrder
	}
	names := make([]string, 0, len(o.cfg.Datasets))
	for name := range o.cfg.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	r.step = pipeline.PhaseExtract
	for _, name := range o.datasetNames() {
		ds, err := o.bind(r, name)
		if err != nil {
			return err
		}
		err = o.track(ctx, r, name, stage.Raw, func() (pipeline.StepResult, error) {
			m, err := factory.CreateInputModule(o.cfg.Folders.External, name, ds)
			if err != nil {
				return pipeline.StepResult{}, err
			}
			defer closeModule(r, name, m)

			t, err := m.Read(ctx)
			if err != nil {
				return pipeline.StepResult{}, err
			}
			return o.persist(ctx, r, name, stage.Raw, t, t.NumRows())
		})
		if err != nil {
			return err
		}
	}
	r.metrics.StepsExecuted = 1
	return nil
}

func (o *Orchestrator) normalize(ctx context.Context, r *run) error {
	sep := o.cfg.Normalize.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	for _, name := range o.cfg.Normalize.Datasets {
		ds, err := o.bind(r, name)
		if err != nil {
			return err
		}
		rowFilters, err := factory.CreateRowFilters(name, ds)
		if err != nil {
			return err
		}
		chain := append(filter.Chain{filter.NormalizeModule{Separator: sep}}, rowFilters...)
		if err := o.transformDataset(ctx, r, name, StepNormalize.Input(), StepNormalize.Output(), chain); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) filterLastWeeks(ctx context.Context, r *run) error {
	if err := o.checkWindows(r); err != nil {
		return err
	}
	for _, weeks := range o.cfg.WindowWeeks() {
		for _, name := range o.cfg.Windows[weeks] {
			ds, err := o.bind(r, name)
			if err != nil {
				return err
			}
			m := filter.WindowModule{Column: dateColumn(name, ds), Weeks: weeks}
			if err := o.transformDataset(ctx, r, name, StepFilterLastWeeks.Input(), StepFilterLastWeeks.Output(), m); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkWindows fails when a dataset is listed under more than one window size,
// before any windowed artifact is written.
func (o *Orchestrator) checkWindows(r *run) error {
	owner := make(map[string]int)
	for _, weeks := range o.cfg.WindowWeeks() {
		for _, name := range o.cfg.Windows[weeks] {
			if first, ok := owner[name]; ok && first != weeks {
				r.dataset = name
				return fmt.Errorf("%w: %q is listed under %d and %d weeks", ErrDuplicateWindow, name, first, weeks)
			}
			owner[name] = weeks
		}
	}
	return nil
}

// filterByValues narrows the reference and each dependent to the key values
// present in the reference's windowed artifact.
func (o *Orchestrator) filterByValues(ctx context.Context, r *run) error {
	cfg := o.cfg.Membership
	if cfg == nil {
		return fmt.Errorf("%w: %s needs a membership section", ErrStepNotConfigured, r.step)
	}
	if _, err := o.bind(r, cfg.Reference); err != nil {
		return err
	}
	ref, err := o.read(ctx, r, StepFilterByValues.Input(), cfg.Reference)
	if err != nil {
		return err
	}
	values, err := filter.ColumnValues(ref, cfg.Column)
	if err != nil {
		return fmt.Errorf("%s reference %s: %w", r.step, cfg.Reference, err)
	}
	allowed := filter.NewValueSet(values)
	logger.WithDataset(cfg.Reference, StepFilterByValues.Input().Code()).Debug("membership reference loaded",
		slog.String("run_id", r.result.RunID),
		slog.String("column", cfg.Column),
		slog.Int("values", len(values)),
		slog.Int("distinct", allowed.Len()),
	)

	m := filter.MembershipModule{Column: cfg.Column, Allowed: allowed}
	seen := make(map[string]bool, len(cfg.Dependents)+1)
	for _, name := range append([]string{cfg.Reference}, cfg.Dependents...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := o.bind(r, name); err != nil {
			return err
		}
		if err := o.transformDataset(ctx, r, name, StepFilterByValues.Input(), StepFilterByValues.Output(), m); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) export(ctx context.Context, r *run) error {
	r.step = pipeline.PhaseExport
	label := o.cfg.Export.Stage
	if label == "" {
		label = stage.Narrowed.Label
	}
	st, err := stage.Parse(label)
	if err != nil {
		return err
	}
	out, err := factory.CreateOutputModule(registry.FormatCSV, o.cfg.Folders.Processed)
	if err != nil {
		return err
	}

	names := o.cfg.Export.Datasets
	if len(names) == 0 {
		names = o.datasetNames()
	}
	for _, name := range names {
		if _, err := o.bind(r, name); err != nil {
			return err
		}
		err := o.track(ctx, r, name, st, func() (pipeline.StepResult, error) {
			t, err := o.read(ctx, r, st, name)
			if err != nil {
				return pipeline.StepResult{}, err
			}
			path, err := out.Write(ctx, name, t)
			if err != nil {
				return pipeline.StepResult{}, err
			}
			err = o.recordArtifact(ctx, r, catalog.Artifact{
				Dataset: name,
				Stage:   pipeline.PhaseExport,
				Path:    path,
				Rows:    t.NumRows(),
				Columns: t.NumCols(),
			})
			if err != nil {
				return pipeline.StepResult{}, err
			}
			return pipeline.StepResult{
				InputRows:  t.NumRows(),
				OutputRows: t.NumRows(),
				Columns:    t.NumCols(),
				Artifact:   path,
			}, nil
		})
		if err != nil {
			return err
		}
	}
	r.metrics.StepsExecuted = 1
	return nil
}

// dateColumn returns the date column of dataset: the configured one, else the
// known default, else "" to let the window filter resolve it.
func dateColumn(dataset string, ds pipeline.DatasetConfig) string {
	if ds.DateColumn != "" {
		return ds.DateColumn
	}
	return defaultDateColumns[dataset]
}

// closeModule closes an input module and logs any error.
func closeModule(r *run, dataset string, m input.Module) {
	if err := m.Close(); err != nil {
		logger.WithRun(r.result.RunID).Warn("failed to close input module",
			slog.String("dataset", dataset),
			slog.String("error", err.Error()),
		)
	}
}
