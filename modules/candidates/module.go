package candidates

import (
	"context"
	"fmt"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

var countries = []string{"US", "CA", "GB", "DE", "FR"}

// MaxFanout bounds the number of generated candidates.
const MaxFanout = 10_000_000

// Run emits fanout candidates with ids 1..fanout, a deterministic score in
// [0, 1) and a country.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 0 {
		return nil, fmt.Errorf("candidates: expected 0 inputs, got %d", len(call.Inputs))
	}
	fanout := call.Params.Int("fanout")
	if fanout <= 0 {
		return nil, fmt.Errorf("candidates: 'fanout' must be > 0")
	}
	if fanout > MaxFanout {
		return nil, fmt.Errorf("candidates: 'fanout' exceeds maximum limit (%d)", MaxFanout)
	}
	n := int(fanout)
	b := rowset.SequentialBatch(n)
	scores := make([]float64, n)
	country := make([]string, n)
	for i := range n {
		id := b.ID(i)
		scores[i] = Score(id)
		country[i] = countries[id%int64(len(countries))]
	}
	b = b.WithFloat("score", scores, rowset.AllValid(n)).
		WithString("country", country, rowset.AllValid(n))
	return rowset.New(b), nil
}

// Score is the generated score of candidate id.
func Score(id int64) float64 {
	return float64((id*7919)%1000) / 1000
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "candidates",
		Description: "Generates fanout scored candidates.",
		Params: []registry.ParamSpec{
			{Name: "fanout", Type: registry.ParamInt, Required: true},
		},
		Pattern: contract.SourceFanoutDense,
		Run:     Run,
	})
}
