package graph

import (
	"slices"
	"sort"
)

// NodeRef is a parameter value that names another node. It creates a
// dependency edge in addition to the declared inputs.
type NodeRef string

// Node is one operator invocation in a plan.
type Node struct {
	ID     string
	Op     string
	Inputs []string
	Params map[string]any
	// TimeoutMs overrides the operator's default per-node timeout when > 0.
	TimeoutMs int
}

// RefParams returns the names of params holding a NodeRef, sorted.
func (n Node) RefParams() []string {
	var names []string
	for k, v := range n.Params {
		if _, ok := v.(NodeRef); ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Dependencies returns declared inputs followed by node-reference targets,
// without duplicates.
func (n Node) Dependencies() []string {
	deps := make([]string, 0, len(n.Inputs)+len(n.Params))
	for _, in := range n.Inputs {
		if !slices.Contains(deps, in) {
			deps = append(deps, in)
		}
	}
	for _, name := range n.RefParams() {
		ref := string(n.Params[name].(NodeRef))
		if !slices.Contains(deps, ref) {
			deps = append(deps, ref)
		}
	}
	return deps
}
