package media

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/modules/internal/kvlist"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// MaxFanout is the per-row limit on media ids.
const MaxFanout = 10_000

func validate(call *registry.Call) (int64, error) {
	if len(call.Inputs) != 1 {
		return 0, fmt.Errorf("media: expected exactly 1 input, got %d", len(call.Inputs))
	}
	fanout := call.Params.Int("fanout")
	if fanout <= 0 {
		return 0, fmt.Errorf("media: 'fanout' must be > 0")
	}
	if fanout > MaxFanout {
		return 0, fmt.Errorf("media: 'fanout' exceeds per-row limit (%d)", MaxFanout)
	}
	return fanout, nil
}

func collect(in *rowset.RowSet, fanout int64, f kvlist.Fetcher) (*rowset.RowSet, error) {
	ids, err := kvlist.Expand(in, "media", fanout, f)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return rowset.New(rowset.NewBatch(ids)), nil
}

// Run reads media:<id> for every active input row and emits the media ids
// with no columns.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	fanout, err := validate(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return collect(call.Input(), fanout, kvlist.Blocking(ctx, c))
}

// RunAsync is Run for reactor tasks.
func RunAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	fanout, err := validate(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return collect(call.Input(), fanout, kvlist.Async(s, c))
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "media",
		Description: "Expands rows into their media ids.",
		Params: []registry.ParamSpec{
			{Name: "endpoint", Type: registry.ParamEndpointRef, Required: true, EndpointKind: endpoint.KindRedis},
			{Name: "fanout", Type: registry.ParamInt, Required: true},
		},
		Pattern:        contract.VariableDense,
		IsIO:           true,
		DefaultTimeout: 100 * time.Millisecond,
		Run:            Run,
		RunAsync:       RunAsync,
	})
}
