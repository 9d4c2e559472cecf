package take

import (
	"context"
	"fmt"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run keeps the first count active rows.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("take: expected 1 input, got %d", len(call.Inputs))
	}
	count := call.Params.Int("count")
	if count < 0 {
		return nil, fmt.Errorf("take: 'count' must be >= 0")
	}
	in := call.Input()
	active := in.Active()
	if int64(len(active)) > count {
		active = active[:count]
	}
	return rowset.WithIndex(in.Batch(), active), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "take",
		Description: "Keeps the first count rows.",
		Params: []registry.ParamSpec{
			{Name: "count", Type: registry.ParamInt, Required: true},
		},
		Pattern: contract.PrefixOfInput,
		Run:     Run,
	})
}
