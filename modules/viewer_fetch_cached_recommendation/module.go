package viewer_fetch_cached_recommendation

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// MaxFanout bounds the number of generated rows.
const MaxFanout = 10_000_000

// firstID is the id of the first cached recommendation.
const firstID = 1001

// Run emits fanout cached recommendations with ids starting at 1001 and
// country alternating CA and FR.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	const op = "viewer.fetch_cached_recommendation"
	if len(call.Inputs) != 0 {
		return nil, fmt.Errorf("%s: expected 0 inputs, got %d", op, len(call.Inputs))
	}
	fanout := call.Params.Int("fanout")
	if fanout <= 0 {
		return nil, fmt.Errorf("%s: 'fanout' must be > 0", op)
	}
	if fanout > MaxFanout {
		return nil, fmt.Errorf("%s: 'fanout' exceeds maximum limit (%d)", op, MaxFanout)
	}
	n := int(fanout)
	ids := make([]int64, n)
	country := make([]string, n)
	for i := range n {
		ids[i] = firstID + int64(i)
		country[i] = [2]string{"CA", "FR"}[i%2]
	}
	b := rowset.NewBatch(ids).WithString("country", country, rowset.AllValid(n))
	return rowset.New(b), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "viewer.fetch_cached_recommendation",
		Description: "Generates the viewer's cached recommendations with country.",
		Params: []registry.ParamSpec{
			{Name: "fanout", Type: registry.ParamInt, Required: true},
		},
		Pattern:        contract.SourceFanoutDense,
		DefaultTimeout: 100 * time.Millisecond,
		Run:            Run,
	})
}
