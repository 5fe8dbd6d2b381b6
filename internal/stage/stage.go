// Package stage defines the typed descriptors that name pipeline artifacts.
//
// A stage is identified by an ordinal that encodes pipeline order and a
// human label. The ordinal renders as a zero-padded three-digit code with a
// trailing underscore ("021_") that prefixes every artifact written by the
// stage. The raw stage has ordinal 0 and no prefix.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStage is returned when a label does not name a known stage.
var ErrUnknownStage = errors.New("unknown stage")

// ArtifactExt is the file extension of every staged artifact.
const ArtifactExt = ".parquet.gzip"

// Stage describes one position in the pipeline.
type Stage struct {
	Ordinal int
	Label   string
}

// Predefined stages, in pipeline order.
var (
	Raw        = Stage{Ordinal: 0, Label: "raw"}
	Normalized = Stage{Ordinal: 10, Label: "normalized"}
	Windowed   = Stage{Ordinal: 21, Label: "windowed"}
	Narrowed   = Stage{Ordinal: 22, Label: "narrowed"}
)

// All lists the predefined stages in pipeline order.
func All() []Stage {
	return []Stage{Raw, Normalized, Windowed, Narrowed}
}

// Code returns the artifact prefix of the stage ("" for the raw stage).
func (s Stage) Code() string {
	if s.Ordinal == 0 {
		return ""
	}
	return fmt.Sprintf("%03d_", s.Ordinal)
}

// ArtifactName returns the base name of the dataset's artifact for this stage.
func (s Stage) ArtifactName(dataset string) string {
	return s.Code() + dataset
}

// FileName returns the artifact file name including the extension.
func (s Stage) FileName(dataset string) string {
	return s.ArtifactName(dataset) + ArtifactExt
}

func (s Stage) String() string {
	if code := s.Code(); code != "" {
		return s.Label + "(" + code + ")"
	}
	return s.Label
}

// Parse returns the predefined stage with the given label or code.
// Both "windowed" and "021_" resolve to Windowed.
func Parse(name string) (Stage, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, s := range All() {
		if n == s.Label || (s.Code() != "" && (n == s.Code() || n+"_" == s.Code())) {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}
