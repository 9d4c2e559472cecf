package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/rowset"
)

// Module is the interface that all operator modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// RunFunc is the synchronous body of an operator.
type RunFunc func(ctx context.Context, call *Call) (*rowset.RowSet, error)

// AsyncFunc is the reactor-native body of an operator. It runs on the
// reactor and may suspend through s.
type AsyncFunc func(s *reactor.Suspender, call *Call) (*rowset.RowSet, error)

// OpSpec describes one operator.
type OpSpec struct {
	Name        string
	Description string
	Params      []ParamSpec
	Pattern     contract.Pattern
	// IsIO routes the operator to the IO pool in the parallel executor.
	IsIO bool
	// DefaultTimeout bounds a single invocation unless the node overrides
	// it. Zero means no per-node limit.
	DefaultTimeout time.Duration
	Run            RunFunc
	// RunAsync is optional. Operators without it are offloaded to the CPU
	// pool by the reactor executor.
	RunAsync AsyncFunc
}

// Param returns the schema of the named parameter.
func (s *OpSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Registry holds the operators of a single application instance.
type Registry struct {
	ops map[string]*OpSpec
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{ops: make(map[string]*OpSpec)}
}

// Load registers every module in order.
func (r *Registry) Load(modules ...Module) *Registry {
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Register adds an operator. Registering the same name twice panics.
func (r *Registry) Register(spec *OpSpec) {
	if spec.Name == "" {
		panic("operator registered without a name")
	}
	if spec.Run == nil {
		panic(fmt.Sprintf("operator '%s' registered without a run function", spec.Name))
	}
	if _, exists := r.ops[spec.Name]; exists {
		panic(fmt.Sprintf("operator with name '%s' already registered", spec.Name))
	}
	slog.Debug("Registering operator.", "name", spec.Name, "pattern", spec.Pattern, "io", spec.IsIO, "async", spec.RunAsync != nil)
	r.ops[spec.Name] = spec
}

// Lookup returns the operator named op.
func (r *Registry) Lookup(op string) (*OpSpec, bool) {
	spec, ok := r.ops[op]
	return spec, ok
}

// Ops returns all operators sorted by name.
func (r *Registry) Ops() []*OpSpec {
	out := make([]*OpSpec, 0, len(r.ops))
	for _, s := range r.ops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
