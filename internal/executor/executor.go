// Package executor runs a compiled plan under one of three interchangeable
// strategies.
//
// Sequential walks the topological order on the calling goroutine and is the
// reference every other strategy is compared against. Parallel dispatches
// ready nodes onto CPU and IO worker pools around a mutex-guarded run state.
// Reactor runs every node as a resumable task on a single event loop so the
// run state is touched by one goroutine at a time without locks.
//
// All three return the same Result for the same job: outputs in declared
// order and schema deltas in topological order, independent of which node
// happened to finish first. On failure exactly one error, the first one
// recorded, is returned and no partial output is reported.
package executor

import (
	"context"

	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/schemadelta"
)

// Executor runs a job to completion.
type Executor interface {
	// Name identifies the strategy: "sequential", "parallel" or "reactor".
	Name() string
	// Execute runs job. The run-wide deadline, if any, is ctx's deadline.
	Execute(ctx context.Context, job *Job, env *registry.Env) (*Result, error)
}

// Output is the final row set of one output node.
type Output struct {
	NodeID string
	Rows   *rowset.RowSet
}

// Result is what a successful run reports.
type Result struct {
	Outputs []Output
	Deltas  []schemadelta.NodeDelta
}

// DeltaOrder returns the node ids of the delta trace.
func (r *Result) DeltaOrder() []string {
	ids := make([]string, len(r.Deltas))
	for i, d := range r.Deltas {
		ids[i] = d.NodeID
	}
	return ids
}
