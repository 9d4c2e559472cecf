package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/vk/rankgrid/internal/schemadelta"
)

// nodeInputs is what a node reads: declared inputs in order and the outputs
// of node-reference params.
type nodeInputs struct {
	inputs   []*rowset.RowSet
	refs     map[string]*rowset.RowSet
	refOrder []string
}

// contractInputs lists declared inputs followed by referenced outputs in
// param-name order.
func (in nodeInputs) contractInputs() []*rowset.RowSet {
	out := make([]*rowset.RowSet, 0, len(in.inputs)+len(in.refOrder))
	out = append(out, in.inputs...)
	for _, name := range in.refOrder {
		out = append(out, in.refs[name])
	}
	return out
}

// nodeOutcome is the result of one node invocation.
type nodeOutcome struct {
	out   *rowset.RowSet
	delta schemadelta.Delta
	err   error
}

// checkDeadline fails a node whose run deadline has already passed, before
// anything is dispatched for it.
func checkDeadline(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return runerr.ErrDeadline
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return runerr.ErrDeadline
		}
		return err
	}
	return nil
}

// nodeContext derives the context a node runs under. Its deadline is the
// earlier of the run deadline and the node's own timeout.
func (j *Job) nodeContext(ctx context.Context, p int) (context.Context, context.CancelFunc) {
	n := j.graph.Node(p)
	ctx, _ = ctxlog.With(ctx, "node", n.ID, "op", n.Op)
	if t := j.timeouts[p]; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (j *Job) call(p int, in nodeInputs, env *registry.Env) *registry.Call {
	if env == nil {
		env = &registry.Env{}
	}
	return &registry.Call{
		NodeID: j.graph.Node(p).ID,
		Inputs: in.inputs,
		Refs:   in.refs,
		Params: j.params[p],
		Env:    env,
	}
}

// runSync invokes the synchronous body of node p on the calling goroutine.
func (j *Job) runSync(ctx context.Context, p int, in nodeInputs, env *registry.Env) nodeOutcome {
	if err := checkDeadline(ctx); err != nil {
		return j.failed(p, err)
	}
	nctx, cancel := j.nodeContext(ctx, p)
	defer cancel()

	logger := ctxlog.FromContext(nctx)
	logger.Debug("▶️ Starting node")
	start := time.Now()

	out, err := safeRun(nctx, j.specs[p].Run, j.call(p, in, env))
	return j.settle(nctx, p, in, out, err, start)
}

// runAsync invokes node p as a reactor task body. Operators without a
// native async body are offloaded to cpu.
func (j *Job) runAsync(s *reactor.Suspender, p int, in nodeInputs, env *registry.Env, cpu reactor.Submitter) nodeOutcome {
	nctx := s.Context()
	logger := ctxlog.FromContext(nctx)
	logger.Debug("▶️ Starting node")
	start := time.Now()

	spec := j.specs[p]
	call := j.call(p, in, env)
	var (
		out *rowset.RowSet
		err error
	)
	if spec.RunAsync != nil {
		out, err = safeRunAsync(s, spec.RunAsync, call)
	} else {
		var v any
		v, err = s.Offload(cpu, func() (any, error) {
			return safeRun(nctx, spec.Run, call)
		})
		out, _ = v.(*rowset.RowSet)
	}
	return j.settle(nctx, p, in, out, err, start)
}

// settle classifies the invocation result, validates the output contract
// and computes the schema delta.
func (j *Job) settle(nctx context.Context, p int, in nodeInputs, out *rowset.RowSet, err error, start time.Time) nodeOutcome {
	logger := ctxlog.FromContext(nctx)
	if ctxErr := nctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		// A late result is discarded.
		err = fmt.Errorf("%w after %v", runerr.ErrTimeout, time.Since(start).Round(time.Millisecond))
	}
	if err != nil {
		logger.Debug("Node failed.", "error", err, "duration", time.Since(start))
		return j.failed(p, err)
	}

	spec := j.specs[p]
	n := j.graph.Node(p)
	inputs := in.contractInputs()
	if err := contract.Validate(n.ID, n.Op, spec.Pattern, inputs, out, j.params[p]); err != nil {
		logger.Debug("Node violated its output contract.", "error", err)
		return j.failed(p, err)
	}

	delta := schemadelta.Compute(inputs, out)
	logger.Debug("✅ Finished node", "rows", out.Len(), "duration", time.Since(start))
	return nodeOutcome{out: out, delta: delta}
}

func (j *Job) failed(p int, err error) nodeOutcome {
	n := j.graph.Node(p)
	return nodeOutcome{err: runerr.Wrap(n.ID, n.Op, err)}
}

func safeRun(ctx context.Context, fn registry.RunFunc, call *registry.Call) (out *rowset.RowSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator panicked: %v", r)
		}
	}()
	return fn(ctx, call)
}

func safeRunAsync(s *reactor.Suspender, fn registry.AsyncFunc, call *registry.Call) (out *rowset.RowSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator panicked: %v", r)
		}
	}()
	return fn(s, call)
}
