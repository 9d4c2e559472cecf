package hydrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type hget func(key, field string) (string, bool, error)

// hydrate reads user:<id> field for every active row into the string column
// out_key. The view over the batch is kept as is.
func hydrate(call *registry.Call, get hget) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("hydrate: expected 1 input, got %d", len(call.Inputs))
	}
	in := call.Input()
	field := call.Params.String("field")
	outKey := call.Params.String("out_key")
	if outKey == "" {
		outKey = field
	}

	b := in.Batch()
	values := make([]string, b.Len())
	valid := make([]bool, b.Len())
	for _, row := range in.Active() {
		v, ok, err := get("user:"+strconv.FormatInt(b.ID(row), 10), field)
		if err != nil {
			return nil, fmt.Errorf("hydrate: %w", err)
		}
		values[row], valid[row] = v, ok
	}
	out := b.WithString(outKey, values, valid)
	if in.IsDense() {
		return rowset.New(out), nil
	}
	return rowset.WithIndex(out, in.Active()), nil
}

// Run is the blocking implementation.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	return hydrate(call, func(key, field string) (string, bool, error) { return c.HGet(ctx, key, field) })
}

// RunAsync is Run for reactor tasks.
func RunAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	return hydrate(call, func(key, field string) (string, bool, error) { return c.HGetAsync(s, key, field) })
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "hydrate",
		Description: "Copies a user hash field into a string column.",
		Params: []registry.ParamSpec{
			{Name: "endpoint", Type: registry.ParamEndpointRef, Required: true, EndpointKind: endpoint.KindRedis},
			{Name: "field", Type: registry.ParamString, Required: true},
			{Name: "out_key", Type: registry.ParamString},
		},
		Pattern:        contract.UnaryPreserveView,
		IsIO:           true,
		DefaultTimeout: 100 * time.Millisecond,
		Run:            Run,
		RunAsync:       RunAsync,
	})
}
