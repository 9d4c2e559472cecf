package filter

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

// Run keeps the active rows for which pred is true, preserving their order.
// Rows where pred references a null column are dropped.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	in := call.Input()
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("filter: expected 1 input, got %d", len(call.Inputs))
	}
	pred, err := expr.Compile(call.Params.String("pred"))
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	params := call.Env.Params
	b := in.Batch()
	active := in.Active()
	kept := make([]int, 0, len(active))
	for _, row := range active {
		if err := pred.Check(b, row, params); err != nil {
			if errors.Is(err, expr.ErrNull) {
				continue
			}
			return nil, fmt.Errorf("filter: %w", err)
		}
		ok, err := pred.Bool(b, row, params)
		if err != nil {
			return nil, fmt.Errorf("filter: row %d: %w", b.ID(row), err)
		}
		if ok {
			kept = append(kept, row)
		}
	}
	return rowset.WithIndex(b, kept), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "filter",
		Description: "Keeps rows matching a predicate expression.",
		Params: []registry.ParamSpec{
			{Name: "pred", Type: registry.ParamExpr, Required: true},
		},
		Pattern: contract.StableFilter,
		Run:     Run,
	})
}
