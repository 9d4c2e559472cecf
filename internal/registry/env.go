package registry

import (
	"fmt"

	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/kvclient"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/sioclient"
)

// Request is the serving request a plan runs for.
type Request struct {
	RequestID      string         `json:"request_id,omitempty"`
	UserID         int64          `json:"user_id"`
	ParamOverrides map[string]any `json:"param_overrides,omitempty"`
}

// Env is the execution context shared by every node of a run. Nil handles
// are allowed when no operator of the plan needs them.
type Env struct {
	Request Request
	// Params is the parameter table visible to expressions: plan-level
	// defaults overlaid with the request's overrides.
	Params    map[string]any
	Endpoints *endpoint.Registry
	Gate      *gate.Gate
	KV        *kvclient.Pool
	Sockets   *sioclient.Cache
}

// Call is one operator invocation.
type Call struct {
	NodeID string
	// Inputs are the outputs of the node's declared inputs, in order.
	Inputs []*rowset.RowSet
	// Refs holds the outputs of node-reference params by param name.
	Refs   map[string]*rowset.RowSet
	Params Params
	Env    *Env
}

// Input returns the single input of a unary operator.
func (c *Call) Input() *rowset.RowSet {
	if len(c.Inputs) == 0 {
		return nil
	}
	return c.Inputs[0]
}

// KVClient returns the client of a redis endpoint.
func (e *Env) KVClient(endpointID string) (*kvclient.Client, error) {
	if e == nil || e.KV == nil {
		return nil, fmt.Errorf("no kv pool configured for endpoint '%s'", endpointID)
	}
	return e.KV.Client(endpointID)
}
