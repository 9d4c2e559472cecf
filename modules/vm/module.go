package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/expr"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run evaluates expr for every active row and writes the result into the
// float column out_key. Rows where expr references a null are null.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("vm: expected 1 input, got %d", len(call.Inputs))
	}
	in := call.Input()
	x, err := expr.Compile(call.Params.String("expr"))
	if err != nil {
		return nil, fmt.Errorf("vm: %w", err)
	}
	outKey := call.Params.String("out_key")
	if outKey == "" || outKey == "id" {
		return nil, fmt.Errorf("vm: invalid 'out_key' %q", outKey)
	}

	params := call.Env.Params
	b := in.Batch()
	values := make([]float64, b.Len())
	valid := make([]bool, b.Len())
	for _, row := range in.Active() {
		if err := x.Check(b, row, params); err != nil {
			if errors.Is(err, expr.ErrNull) {
				continue
			}
			return nil, fmt.Errorf("vm: %w", err)
		}
		v, err := x.Float(b, row, params)
		if err != nil {
			return nil, fmt.Errorf("vm: row %d: %w", b.ID(row), err)
		}
		values[row], valid[row] = v, true
	}
	out := b.WithFloat(outKey, values, valid)
	if in.IsDense() && in.Len() == b.Len() {
		return rowset.New(out), nil
	}
	return rowset.WithIndex(out, in.Active()), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "vm",
		Description: "Computes a float column from an expression.",
		Params: []registry.ParamSpec{
			{Name: "expr", Type: registry.ParamExpr, Required: true},
			{Name: "out_key", Type: registry.ParamString, Required: true},
		},
		Pattern: contract.UnaryPreserveView,
		Run:     Run,
	})
}
