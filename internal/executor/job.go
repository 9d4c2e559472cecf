package executor

import (
	"time"

	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/runerr"
)

// Job is a validated plan ready to run: the graph plus the operator and
// validated params resolved once per node. A Job is read-only and may be
// executed any number of times, concurrently.
type Job struct {
	graph    *graph.TaskGraph
	specs    []*registry.OpSpec
	params   []registry.Params
	timeouts []time.Duration
	outputs  []int
}

// CompileOptions tune Compile.
type CompileOptions struct {
	// Endpoints, when set, is used to check endpoint params.
	Endpoints *endpoint.Registry
	// NodeTimeout replaces operator default timeouts when > 0. A node's own
	// TimeoutMs still takes precedence.
	NodeTimeout time.Duration
}

// Compile resolves every node against reg, validates params and builds the
// task graph. outputs lists the nodes whose results are reported; when empty
// the graph's sinks are used. All errors are structural.
func Compile(nodes []graph.Node, outputs []string, reg *registry.Registry, opts CompileOptions) (*Job, error) {
	resolved := make([]graph.Node, len(nodes))
	specs := make([]*registry.OpSpec, len(nodes))
	params := make([]registry.Params, len(nodes))
	timeouts := make([]time.Duration, len(nodes))

	for i, n := range nodes {
		spec, ok := reg.Lookup(n.Op)
		if !ok {
			return nil, runerr.Structuralf("node '%s': unknown op '%s'", n.ID, n.Op)
		}
		p, err := registry.ValidateParams(spec, n.Params, opts.Endpoints)
		if err != nil {
			return nil, runerr.Structuralf("node '%s': %v", n.ID, err)
		}
		n.Params = p
		resolved[i] = n
		specs[i] = spec
		params[i] = p

		switch {
		case n.TimeoutMs > 0:
			timeouts[i] = time.Duration(n.TimeoutMs) * time.Millisecond
		case opts.NodeTimeout > 0:
			timeouts[i] = opts.NodeTimeout
		default:
			timeouts[i] = spec.DefaultTimeout
		}
	}

	if err := graph.Validate(resolved); err != nil {
		return nil, err
	}
	g := graph.New(resolved)

	// Graph positions follow node-list order.
	j := &Job{graph: g, specs: specs, params: params, timeouts: timeouts}
	if len(outputs) == 0 {
		j.outputs = g.Sinks()
		return j, nil
	}
	for _, id := range outputs {
		p, ok := g.Position(id)
		if !ok {
			return nil, runerr.Structuralf("output references unknown node '%s'", id)
		}
		j.outputs = append(j.outputs, p)
	}
	return j, nil
}

// Graph returns the job's task graph.
func (j *Job) Graph() *graph.TaskGraph { return j.graph }

// Spec returns the operator of the node at position p.
func (j *Job) Spec(p int) *registry.OpSpec { return j.specs[p] }

// Timeout returns the per-node timeout of position p. Zero means none.
func (j *Job) Timeout(p int) time.Duration { return j.timeouts[p] }

// Outputs returns the ids of the reported nodes.
func (j *Job) Outputs() []string {
	ids := make([]string, len(j.outputs))
	for i, p := range j.outputs {
		ids[i] = j.graph.Node(p).ID
	}
	return ids
}
