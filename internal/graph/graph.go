package graph

import (
	"fmt"

	"github.com/vk/rankgrid/internal/runerr"
)

// TaskGraph is the position-indexed form of a node list.
type TaskGraph struct {
	nodes      []Node
	index      map[string]int
	deps       [][]int
	successors [][]int
	indegree   []int
	topo       []int
}

// Validate checks that nodes form a well-formed DAG: unique non-empty ids,
// known dependencies, no self edges and no cycles. Errors are structural.
func Validate(nodes []Node) error {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return runerr.Structuralf("node at position %d has an empty id", i)
		}
		if _, dup := index[n.ID]; dup {
			return runerr.Structuralf("duplicate node id '%s'", n.ID)
		}
		index[n.ID] = i
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies() {
			if dep == n.ID {
				return runerr.Structuralf("self-referential edge not allowed: %s -> %s", dep, dep)
			}
			if _, ok := index[dep]; !ok {
				return runerr.Structuralf("node '%s' depends on unknown node '%s'", n.ID, dep)
			}
		}
	}
	_, indegree, successors := edges(nodes, index)
	if order := kahn(indegree, successors); len(order) != len(nodes) {
		return runerr.Structuralf("cycle detected involving node '%s'", firstRemaining(nodes, order))
	}
	return nil
}

// New builds the TaskGraph. Callers validate first; an invalid node list
// reaching this point is a programming error and panics.
func New(nodes []Node) *TaskGraph {
	if err := Validate(nodes); err != nil {
		panic(fmt.Sprintf("graph: invalid node list reached the scheduler: %v", err))
	}
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	deps, indegree, successors := edges(nodes, index)
	return &TaskGraph{
		nodes:      nodes,
		index:      index,
		deps:       deps,
		successors: successors,
		indegree:   indegree,
		topo:       kahn(indegree, successors),
	}
}

// edges computes dependency positions, initial indegree and successor lists.
// Successors appear in node-list order.
func edges(nodes []Node, index map[string]int) ([][]int, []int, [][]int) {
	deps := make([][]int, len(nodes))
	indegree := make([]int, len(nodes))
	successors := make([][]int, len(nodes))
	for i, n := range nodes {
		for _, d := range n.Dependencies() {
			p := index[d]
			deps[i] = append(deps[i], p)
			successors[p] = append(successors[p], i)
			indegree[i]++
		}
	}
	return deps, indegree, successors
}

func kahn(indegree []int, successors [][]int) []int {
	remaining := append([]int(nil), indegree...)
	queue := make([]int, 0, len(remaining))
	for i, d := range remaining {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(remaining))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, s := range successors[cur] {
			remaining[s]--
			if remaining[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	return order
}

func firstRemaining(nodes []Node, order []int) string {
	seen := make([]bool, len(nodes))
	for _, p := range order {
		seen[p] = true
	}
	for i, ok := range seen {
		if !ok {
			return nodes[i].ID
		}
	}
	return ""
}

// Len returns the number of nodes.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Node returns the node at position p.
func (g *TaskGraph) Node(p int) Node { return g.nodes[p] }

// Position returns the position of the node with the given id.
func (g *TaskGraph) Position(id string) (int, bool) {
	p, ok := g.index[id]
	return p, ok
}

// Dependencies returns the dependency positions of p: declared inputs first,
// then node-reference targets.
func (g *TaskGraph) Dependencies(p int) []int { return g.deps[p] }

// Successors returns the positions that depend on p.
func (g *TaskGraph) Successors(p int) []int { return g.successors[p] }

// Indegree returns the number of dependencies of p.
func (g *TaskGraph) Indegree(p int) int { return g.indegree[p] }

// Countdowns returns a fresh copy of the initial dependency countdowns.
func (g *TaskGraph) Countdowns() []int {
	return append([]int(nil), g.indegree...)
}

// Roots returns positions with no dependencies, in node-list order.
func (g *TaskGraph) Roots() []int {
	var roots []int
	for i, d := range g.indegree {
		if d == 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// TopoOrder returns the fixed topological order. The slice must not be
// modified.
func (g *TaskGraph) TopoOrder() []int { return g.topo }

// Sinks returns positions without successors in topological order.
func (g *TaskGraph) Sinks() []int {
	var sinks []int
	for _, p := range g.topo {
		if len(g.successors[p]) == 0 {
			sinks = append(sinks, p)
		}
	}
	return sinks
}
