package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/stagepipe/stagepipe/internal/logger"
	"github.com/stagepipe/stagepipe/internal/table"
)

var (
	// ErrInvalidExpression is returned when the expression syntax is invalid
	ErrInvalidExpression = errors.New("invalid expression syntax")
	// ErrEvaluationFailed is returned when the expression fails on a row
	ErrEvaluationFailed = errors.New("expression evaluation failed")
)

// WhereModule drops the rows for which a boolean expression is false.
// Each row is evaluated as a map of column name to value; null cells are
// undefined variables and evaluate to nil.
type WhereModule struct {
	expression string
	program    *vm.Program
}

// NewWhereModule compiles expression. A blank expression keeps every row.
func NewWhereModule(expression string) (*WhereModule, error) {
	m := &WhereModule{expression: strings.TrimSpace(expression)}
	if m.expression == "" {
		return m, nil
	}
	program, err := expr.Compile(m.expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	m.program = program

	logger.Debug("where module initialized", slog.String("expression", m.expression))
	return m, nil
}

// Expression returns the source expression.
func (m *WhereModule) Expression() string { return m.expression }

// Process implements Module.
func (m *WhereModule) Process(ctx context.Context, t *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.program == nil {
		return t, nil
	}

	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		output, err := expr.Run(m.program, t.Row(i))
		if err != nil {
			return nil, fmt.Errorf("%w at row %d (%s): %v", ErrEvaluationFailed, i, m.expression, err)
		}
		if toBool(output) {
			keep = append(keep, i)
		}
	}

	logger.Debug("where module applied",
		slog.String("expression", m.expression),
		slog.Int("input_rows", t.NumRows()),
		slog.Int("output_rows", len(keep)),
	)
	return t.Take(keep), nil
}

var _ Module = (*WhereModule)(nil)
