package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stagepipe/stagepipe/internal/stage"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// ErrUnknownStep is returned when a step name is not a transform step.
var ErrUnknownStep = errors.New("unknown step")

// Step is a transform step. Steps run in the order of their values.
type Step int

// Transform steps, in pipeline order.
const (
	StepNormalize Step = iota
	StepFilterLastWeeks
	StepFilterByValues

	numSteps
)

type stepInfo struct {
	name   string
	input  stage.Stage
	output stage.Stage
}

var stepTable = [numSteps]stepInfo{
	StepNormalize:       {pipeline.StepNormalize, stage.Raw, stage.Normalized},
	StepFilterLastWeeks: {pipeline.StepFilterLastWeeks, stage.Normalized, stage.Windowed},
	StepFilterByValues:  {pipeline.StepFilterByValues, stage.Windowed, stage.Narrowed},
}

// AllSteps returns every transform step in pipeline order.
func AllSteps() []Step {
	all := make([]Step, numSteps)
	for i := range all {
		all[i] = Step(i)
	}
	return all
}

func (s Step) valid() bool { return s >= 0 && s < numSteps }

func (s Step) String() string {
	if !s.valid() {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepTable[s].name
}

// Input returns the stage the step reads.
func (s Step) Input() stage.Stage { return stepTable[s].input }

// Output returns the stage the step writes.
func (s Step) Output() stage.Stage { return stepTable[s].output }

// ParseStep maps a step name ("normalize", "filter_last_weeks",
// "filter_by_values") to its Step.
func ParseStep(name string) (Step, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, info := range stepTable {
		if info.name == n {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStep, name, strings.Join(pipeline.StepNames(), ", "))
}

// ParseSteps parses step names and returns them deduplicated in pipeline
// order, whatever order they were given in.
func ParseSteps(names []string) ([]Step, error) {
	out := make([]Step, 0, len(names))
	for _, name := range names {
		s, err := ParseStep(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return ordered(out), nil
}

// ordered returns the valid steps of in, deduplicated and sorted.
func ordered(in []Step) []Step {
	seen := make(map[Step]bool, len(in))
	out := make([]Step, 0, len(in))
	for _, s := range in {
		if s.valid() && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
