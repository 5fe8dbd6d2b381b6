// Package output provides implementations for output modules.
// Output modules write final tables to the processed folder.
package output

import (
	"context"
	"errors"

	"github.com/stagepipe/stagepipe/internal/table"
)

// ErrExportFailed is returned when a table cannot be written to its destination.
var ErrExportFailed = errors.New("export failed")

// Module represents an output module that writes a dataset to a destination.
type Module interface {
	// Write stores t under the dataset name and returns the written path.
	Write(ctx context.Context, dataset string, t *table.Table) (string, error)
}
