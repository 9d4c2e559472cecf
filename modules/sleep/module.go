package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func duration(call *registry.Call) (time.Duration, error) {
	if len(call.Inputs) != 1 {
		return 0, fmt.Errorf("sleep: expected 1 input, got %d", len(call.Inputs))
	}
	ms := call.Params.Int("duration_ms")
	if ms < 0 {
		return 0, fmt.Errorf("sleep: 'duration_ms' must be >= 0")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func result(call *registry.Call) (*rowset.RowSet, error) {
	if call.Params.Bool("fail_after_sleep") {
		return nil, fmt.Errorf("sleep: failing after sleep as requested")
	}
	return call.Input(), nil
}

// Run blocks the worker for duration_ms and passes its input through.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	d, err := duration(call)
	if err != nil {
		return nil, err
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result(call)
}

// RunAsync suspends the task on a loop timer instead of holding a worker.
func RunAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	d, err := duration(call)
	if err != nil {
		return nil, err
	}
	if err := s.Sleep(d); err != nil {
		return nil, err
	}
	return result(call)
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "sleep",
		Description: "Waits duration_ms and passes its input through.",
		Params: []registry.ParamSpec{
			{Name: "duration_ms", Type: registry.ParamInt, Required: true},
			{Name: "fail_after_sleep", Type: registry.ParamBool, Default: false},
		},
		Pattern:  contract.UnaryPreserveView,
		Run:      Run,
		RunAsync: RunAsync,
	})
}
