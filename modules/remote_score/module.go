package remote_score

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/sioclient"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run sends the ids of the active rows to a socket.io scoring service and
// writes the returned scores into the float column out_key.
//
// The request payload is {"ids": [...], "user_id": n, "request_id": "..."}
// and the service answers on "<event>:<request_id>" with
// {"scores": [...]} aligned with ids. A null score leaves the row null.
func Run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	if len(call.Inputs) != 1 {
		return nil, fmt.Errorf("remote_score: expected 1 input, got %d", len(call.Inputs))
	}
	env := call.Env
	if env.Sockets == nil {
		return nil, fmt.Errorf("remote_score: no socket.io clients configured")
	}
	epID := call.Params.String("endpoint")
	logger := ctxlog.FromContext(ctx).With("endpoint", epID)

	if env.Gate != nil {
		guard, err := env.Gate.Acquire(ctx, epID)
		if err != nil {
			return nil, fmt.Errorf("remote_score: %w", err)
		}
		defer guard.Release()
	}

	io, err := env.Sockets.Get(ctx, epID)
	if err != nil {
		return nil, fmt.Errorf("remote_score: %w", err)
	}

	in := call.Input()
	ids := in.IDs()
	var timeout time.Duration
	if env.Endpoints != nil {
		timeout = env.Endpoints.Policy(epID).RequestTimeout
	}
	logger.Debug("Requesting remote scores.", "rows", len(ids))
	resp, err := sioclient.Request(ctx, io, call.Params.String("event"), map[string]any{
		"ids":     ids,
		"user_id": env.Request.UserID,
	}, timeout)
	if err != nil {
		return nil, fmt.Errorf("remote_score: %w", err)
	}

	scores, err := decode(resp, len(ids))
	if err != nil {
		return nil, fmt.Errorf("remote_score: %w", err)
	}
	b := in.Batch()
	values := make([]float64, b.Len())
	valid := make([]bool, b.Len())
	for i, row := range in.Active() {
		if scores[i] != nil {
			values[row], valid[row] = *scores[i], true
		}
	}
	out := b.WithFloat(call.Params.String("out_key"), values, valid)
	if in.IsDense() {
		return rowset.New(out), nil
	}
	return rowset.WithIndex(out, in.Active()), nil
}

// decode extracts n scores from a response payload.
func decode(resp any, n int) ([]*float64, error) {
	obj, ok := resp.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is %T, want object", resp)
	}
	raw, ok := obj["scores"].([]any)
	if !ok {
		return nil, fmt.Errorf("response has no 'scores' array")
	}
	if len(raw) != n {
		return nil, fmt.Errorf("response has %d scores for %d ids", len(raw), n)
	}
	out := make([]*float64, n)
	for i, v := range raw {
		switch f := v.(type) {
		case nil:
		case float64:
			out[i] = &f
		default:
			return nil, fmt.Errorf("score %d is %T, want number", i, v)
		}
	}
	return out, nil
}

// Register registers the operator with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:        "remote_score",
		Description: "Scores rows through a socket.io scoring service.",
		Params: []registry.ParamSpec{
			{Name: "endpoint", Type: registry.ParamEndpointRef, Required: true, EndpointKind: endpoint.KindSocketIO},
			{Name: "event", Type: registry.ParamString, Default: "score"},
			{Name: "out_key", Type: registry.ParamString, Default: "remote_score"},
		},
		Pattern:        contract.UnaryPreserveView,
		IsIO:           true,
		DefaultTimeout: 200 * time.Millisecond,
		Run:            Run,
	})
}
