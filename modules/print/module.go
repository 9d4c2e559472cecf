package print

import (
	"context"
	"fmt"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run logs the first limit active rows of its input and passes the input
// through unchanged.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("print: expected 1 input, got %d", len(call.Inputs))
	}
	in := call.Input()
	logger := ctxlog.FromContext(ctx)
	logger.Info("Printing rows", "label", call.Params.String("label"), "rows", in.Len(), "keys", in.Keys())

	rows := in.Rows()
	limit := call.Params.Int("limit")
	if int64(len(rows)) > limit {
		rows = rows[:limit]
	}
	for i, row := range rows {
		logger.Info("      row", "pos", i, "id", row.ID, "fields", row.Fields)
	}
	return in, nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "print",
		Description: "Logs the leading rows of its input.",
		Params: []registry.ParamSpec{
			{Name: "limit", Type: registry.ParamInt, Default: int64(5)},
			{Name: "label", Type: registry.ParamString, Default: ""},
		},
		Pattern: contract.UnaryPreserveView,
		Run:     Run,
	})
}
