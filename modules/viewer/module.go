package viewer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func build(userID int64, fields map[string]string) *rowset.RowSet {
	country, ok := fields["country"]
	b := rowset.NewBatch([]int64{userID}).WithString("country", []string{country}, []bool{ok})
	return rowset.New(b)
}

func key(call *registry.Call) (string, error) {
	if len(call.Inputs) != 0 {
		return "", fmt.Errorf("viewer: expected 0 inputs, got %d", len(call.Inputs))
	}
	return "user:" + strconv.FormatInt(call.Env.Request.UserID, 10), nil
}

// Run reads the requesting user's hash and emits it as a single row.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	k, err := key(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	fields, err := c.HGetAll(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	return build(call.Env.Request.UserID, fields), nil
}

// RunAsync is Run for reactor tasks.
func RunAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	k, err := key(call)
	if err != nil {
		return nil, err
	}
	c, err := call.Env.KVClient(call.Params.String("endpoint"))
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	fields, err := c.HGetAllAsync(s, k)
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	return build(call.Env.Request.UserID, fields), nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "viewer",
		Description: "Emits the requesting user with country.",
		Params: []registry.ParamSpec{
			{Name: "endpoint", Type: registry.ParamEndpointRef, Required: true, EndpointKind: endpoint.KindRedis},
		},
		Pattern:        contract.VariableDense,
		IsIO:           true,
		DefaultTimeout: 100 * time.Millisecond,
		Run:            Run,
		RunAsync:       RunAsync,
	})
}
