package viewer_follow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// MaxFanout bounds the number of generated rows.
const MaxFanout = 10_000_000

// Run emits fanout followed accounts with ids 1..fanout, country
// alternating US and CA, and titles L1..L<fanout>.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 0 {
		return nil, fmt.Errorf("viewer.follow: expected 0 inputs, got %d", len(call.Inputs))
	}
	fanout := call.Params.Int("fanout")
	if fanout <= 0 {
		return nil, fmt.Errorf("viewer.follow: 'fanout' must be > 0")
	}
	if fanout > MaxFanout {
		return nil, fmt.Errorf("viewer.follow: 'fanout' exceeds maximum limit (%d)", MaxFanout)
	}
	n := int(fanout)
	country := make([]string, n)
	title := make([]string, n)
	for i := range n {
		country[i] = [2]string{"US", "CA"}[i%2]
		title[i] = "L" + strconv.Itoa(i+1)
	}
	b := rowset.SequentialBatch(n).
		WithString("country", country, rowset.AllValid(n)).
		WithString("title", title, rowset.AllValid(n))
	return rowset.New(b), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "viewer.follow",
		Description: "Generates the viewer's followed accounts with country and title.",
		Params: []registry.ParamSpec{
			{Name: "fanout", Type: registry.ParamInt, Required: true},
		},
		Pattern:        contract.SourceFanoutDense,
		DefaultTimeout: 100 * time.Millisecond,
		Run:            Run,
	})
}
