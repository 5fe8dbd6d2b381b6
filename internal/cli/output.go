package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/stagepipe/stagepipe/internal/catalog"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintRunResult displays the result of one phase run. Failures go to errw,
// everything else to out.
func PrintRunResult(out, errw io.Writer, result *pipeline.RunResult, err error, opts OutputOptions) {
	if result == nil {
		fmt.Fprintln(errw, "✗ No run result available")
		if err != nil {
			fmt.Fprintf(errw, "  Error: %v\n", err)
		}
		return
	}

	if err != nil || result.Status == pipeline.StatusError {
		fmt.Fprintf(errw, "✗ %s failed (run %s)\n", capitalize(result.Phase), result.RunID)
		if e := result.Error; e != nil {
			if e.Step != "" {
				fmt.Fprintf(errw, "  Step: %s\n", e.Step)
			}
			if e.Dataset != "" {
				fmt.Fprintf(errw, "  Dataset: %s\n", e.Dataset)
			}
			fmt.Fprintf(errw, "  Error [%s/%s]: %s\n", e.Category, e.Code, e.Message)
		} else if err != nil {
			fmt.Fprintf(errw, "  Error: %v\n", err)
		}
		return
	}

	if opts.Quiet {
		return
	}
	fmt.Fprintf(out, "✓ %s completed (run %s)\n", capitalize(result.Phase), result.RunID)
	fmt.Fprintf(out, "  Artifacts written: %d\n", result.ArtifactsWritten())
	if !opts.Verbose {
		return
	}
	fmt.Fprintf(out, "  Duration: %v\n", result.Duration().Round(time.Millisecond))
	for _, s := range result.Steps {
		fmt.Fprintf(out, "  %s %s: %d -> %d rows, %d columns\n", s.Step, s.Dataset, s.InputRows, s.OutputRows, s.Columns)
		if s.Artifact != "" {
			fmt.Fprintf(out, "    %s\n", s.Artifact)
		}
	}
}

// PrintConfigSummary prints the pipeline name and what each step will do.
func PrintConfigSummary(w io.Writer, cfg *pipeline.Config) {
	if cfg == nil {
		return
	}
	fmt.Fprintf(w, "  Pipeline: %s\n", cfg.Name)
	if cfg.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", cfg.Description)
	}
	fmt.Fprintf(w, "  Datasets: %s\n", strings.Join(cfg.DatasetOrder, ", "))
	for _, weeks := range cfg.WindowWeeks() {
		fmt.Fprintf(w, "  Window %dw: %s\n", weeks, strings.Join(cfg.Windows[weeks], ", "))
	}
	if m := cfg.Membership; m != nil {
		fmt.Fprintf(w, "  Membership: %s.%s -> %s\n", m.Reference, m.Column, strings.Join(m.Dependents, ", "))
	}
	fmt.Fprintf(w, "  Steps: %s\n", strings.Join(cfg.Steps, ", "))
	if cfg.Export.Enabled {
		fmt.Fprintf(w, "  Export: %s\n", cfg.Export.Stage)
	}
}

// PrintArtifacts prints artifacts as an aligned table.
func PrintArtifacts(w io.Writer, artifacts []catalog.Artifact) {
	if len(artifacts) == 0 {
		fmt.Fprintln(w, "No artifacts found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSTAGE\tCODE\tROWS\tCOLUMNS\tWRITTEN\tPATH")
	for _, a := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Dataset, a.Stage, orDash(a.StageCode), strconv.Itoa(a.Rows), strconv.Itoa(a.Columns), timestamp(a.WrittenAt), a.Path)
	}
	_ = tw.Flush()
}

// PrintRuns prints recorded runs as an aligned table.
func PrintRuns(w io.Writer, runs []catalog.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPHASE\tSTATUS\tSTARTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Phase, r.Status, timestamp(r.StartedAt), orDash(r.Error))
	}
	_ = tw.Flush()
}

func capitalize(s string) string {
	if s == "" {
		return "Run"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
