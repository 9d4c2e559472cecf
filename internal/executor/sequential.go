package executor

import (
	"context"
	"time"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/registry"
)

// Sequential runs nodes one at a time in topological order.
type Sequential struct{}

// NewSequential creates the sequential executor.
func NewSequential() *Sequential { return &Sequential{} }

func (*Sequential) Name() string { return "sequential" }

// Execute runs job. The first failure aborts the run; later nodes never
// start.
func (e *Sequential) Execute(ctx context.Context, job *Job, env *registry.Env) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "executor", e.Name())
	logger.Debug("Starting run.", "nodes", job.graph.Len())
	start := time.Now()

	st := newRunState(job)
	for _, p := range job.graph.TopoOrder() {
		res := job.runSync(ctx, p, st.inputsOf(p), env)
		if res.err != nil {
			logger.Debug("Run failed.", "error", res.err, "duration", time.Since(start))
			return nil, res.err
		}
		st.complete(p, res.out, res.delta)
	}

	logger.Debug("Run finished.", "duration", time.Since(start))
	return st.result(), nil
}
