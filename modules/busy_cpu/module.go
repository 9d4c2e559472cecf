package busy_cpu

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

// Run spins for busy_wait_ms without looking at ctx, then passes its input
// through. It exists to exercise deadlines on offloaded CPU work.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("busy_cpu: expected exactly 1 input, got %d", len(call.Inputs))
	}
	ms := call.Params.Int("busy_wait_ms")
	if ms < 0 {
		return nil, fmt.Errorf("busy_cpu: 'busy_wait_ms' must be >= 0")
	}
	end := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for time.Now().Before(end) {
	}
	return call.Input(), nil
}

// Register registers the operator with the registry. It has no RunAsync, so
// the reactor executor always offloads it.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "busy_cpu",
		Description: "Spins busy_wait_ms and passes its input through.",
		Params: []registry.ParamSpec{
			{Name: "busy_wait_ms", Type: registry.ParamInt, Required: true},
		},
		Pattern:        contract.UnaryPreserveView,
		DefaultTimeout: 10 * time.Second,
		Run:            Run,
	})
}
