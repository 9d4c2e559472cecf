package fixed_source

import (
	"context"
	"fmt"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run emits row_count rows with ids 1..row_count and no columns.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 0 {
		return nil, fmt.Errorf("fixed_source: expected 0 inputs, got %d", len(call.Inputs))
	}
	n := call.Params.Int("row_count")
	if n < 0 {
		return nil, fmt.Errorf("fixed_source: 'row_count' must be >= 0")
	}
	return rowset.New(rowset.SequentialBatch(int(n))), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "fixed_source",
		Description: "Emits row_count rows with sequential ids.",
		Params: []registry.ParamSpec{
			{Name: "row_count", Type: registry.ParamInt, Required: true},
		},
		Pattern: contract.VariableDense,
		Run:     Run,
	})
}
