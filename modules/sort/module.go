package sort

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run orders the active rows by the column "by" (or "id"). The sort is
// stable and nulls always go last.
func Run(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("sort: expected 1 input, got %d", len(call.Inputs))
	}
	in := call.Input()
	b := in.Batch()
	by := call.Params.String("by")
	desc := call.Params.Bool("desc")

	var cmp func(a, c int) int
	switch {
	case by == "id":
		cmp = func(a, c int) int { return compare(b.ID(a), b.ID(c), desc) }
	case slices.Contains(b.FloatKeys(), by):
		cmp = func(a, c int) int {
			va, okA := b.Float(by, a)
			vc, okC := b.Float(by, c)
			return nullsLast(okA, okC, func() int { return compare(va, vc, desc) })
		}
	case slices.Contains(b.StringKeys(), by):
		cmp = func(a, c int) int {
			va, okA := b.String(by, a)
			vc, okC := b.String(by, c)
			return nullsLast(okA, okC, func() int { return compare(va, vc, desc) })
		}
	default:
		return nil, fmt.Errorf("sort: unknown key '%s'", by)
	}

	order := in.Active()
	slices.SortStableFunc(order, cmp)
	return rowset.WithIndex(b, order), nil
}

func compare[T int64 | float64 | string](a, b T, desc bool) int {
	switch {
	case a < b:
		if desc {
			return 1
		}
		return -1
	case a > b:
		if desc {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func nullsLast(okA, okB bool, values func() int) int {
	switch {
	case okA && okB:
		return values()
	case okA:
		return -1
	case okB:
		return 1
	default:
		return 0
	}
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "sort",
		Description: "Stable sort by a column, nulls last.",
		Params: []registry.ParamSpec{
			{Name: "by", Type: registry.ParamString, Required: true},
			{Name: "desc", Type: registry.ParamBool, Default: false},
		},
		Pattern: contract.PermutationOfInput,
		Run:     Run,
	})
}
