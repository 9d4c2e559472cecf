package concat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run appends the active rows of the rhs node to the active rows of the
// input. Columns are unioned; a column missing on one side is null there.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("concat: expected 1 input, got %d", len(call.Inputs))
	}
	rhs, ok := call.Refs["rhs"]
	if !ok || rhs == nil {
		return nil, fmt.Errorf("concat: missing resolved 'rhs' node reference")
	}
	lhs := call.Input()
	lb, rb := lhs.Batch(), rhs.Batch()
	lrows, rrows := lhs.Active(), rhs.Active()

	for _, k := range lb.FloatKeys() {
		if slices.Contains(rb.StringKeys(), k) {
			return nil, fmt.Errorf("concat: column '%s' is float on the left and string on the right", k)
		}
	}
	for _, k := range lb.StringKeys() {
		if slices.Contains(rb.FloatKeys(), k) {
			return nil, fmt.Errorf("concat: column '%s' is string on the left and float on the right", k)
		}
	}

	n := len(lrows) + len(rrows)
	ids := make([]int64, 0, n)
	for _, r := range lrows {
		ids = append(ids, lb.ID(r))
	}
	for _, r := range rrows {
		ids = append(ids, rb.ID(r))
	}
	out := rowset.NewBatch(ids)

	for _, k := range union(lb.FloatKeys(), rb.FloatKeys()) {
		values, valid := make([]float64, n), make([]bool, n)
		fill(lrows, 0, func(i, r int) { values[i], valid[i] = lb.Float(k, r) })
		fill(rrows, len(lrows), func(i, r int) { values[i], valid[i] = rb.Float(k, r) })
		out = out.WithFloat(k, values, valid)
	}
	for _, k := range union(lb.StringKeys(), rb.StringKeys()) {
		values, valid := make([]string, n), make([]bool, n)
		fill(lrows, 0, func(i, r int) { values[i], valid[i] = lb.String(k, r) })
		fill(rrows, len(lrows), func(i, r int) { values[i], valid[i] = rb.String(k, r) })
		out = out.WithString(k, values, valid)
	}
	return rowset.New(out), nil
}

func fill(rows []int, offset int, set func(i, r int)) {
	for i, r := range rows {
		set(offset+i, r)
	}
}

func union(a, b []string) []string {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "concat",
		Description: "Appends the rows of rhs to the input.",
		Params: []registry.ParamSpec{
			{Name: "rhs", Type: registry.ParamNodeRef, Required: true},
		},
		Pattern:        contract.ConcatDense,
		DefaultTimeout: 50 * time.Millisecond,
		Run:            Run,
	})
}
