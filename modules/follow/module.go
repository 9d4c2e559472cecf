package follow

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

// MaxFanout bounds the per-user fanout.
const MaxFanout = 10_000_000

func validate(call *registry.Call) (int64, error) {
	if len(call.Inputs) != 1 {
		return 0, fmt.Errorf("follow: expected 1 input, got %d", len(call.Inputs))
	}
	fanout := call.Params.Int("fanout")
	if fanout <= 0 {
		return 0, fmt.Errorf("follow: 'fanout' must be > 0")
	}
	if fanout > MaxFanout {
		return 0, fmt.Errorf("follow: 'fanout' exceeds maximum limit (%d)", MaxFanout)
	}
	return fanout, nil
}

// expand reads follow:<id> for every active input row, then hydrates each
// followee's country from user:<id>.
func expand(in *rowset.RowSet, fanout int64, f kvlist.Fetcher) (*rowset.RowSet, error) {
	followees, err := kvlist.Expand(in, "follow", fanout, f)
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	out, err := kvlist.WithCountry(followees, f)
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	return out, nil
}

// Run is the blocking implementation.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	fanout, err := validate(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	return expand(call.Input(), fanout, kvlist.Blocking(ctx, c))
}

// RunAsync suspends the task on every round trip instead of blocking a
// worker.
func RunAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	fanout, err := validate(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	return expand(call.Input(), fanout, kvlist.Async(s, c))
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "follow",
		Description: "Expands users into the accounts they follow, with country.",
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
