package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
)

// Reactor runs every node as a resumable task on one event loop. Native
// async operators suspend on network replies and timers; synchronous ones
// are offloaded to the CPU pool and resumed on the loop when they finish.
type Reactor struct {
	loop *reactor.EventLoop
	cpu  reactor.Submitter
}

// NewReactor creates the reactor executor. The loop must be running.
func NewReactor(loop *reactor.EventLoop, cpu reactor.Submitter) *Reactor {
	return &Reactor{loop: loop, cpu: cpu}
}

func (*Reactor) Name() string { return "reactor" }

// reactorRun is the loop-confined state of one run.
type reactorRun struct {
	e    *Reactor
	ctx  context.Context
	job  *Job
	env  *registry.Env
	st   *runState
	wake reactor.Resolve
}

// Execute runs job and blocks the caller until the run settles. Siblings of
// a failed node are not cancelled; the first error is reported once all of
// them finished.
func (e *Reactor) Execute(ctx context.Context, job *Job, env *registry.Env) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "executor", e.Name())
	logger.Debug("Starting run.", "nodes", job.graph.Len())
	start := time.Now()

	// The root task must outlive ctx so that it waits for every node.
	v, err := reactor.Block(context.WithoutCancel(ctx), e.loop, func(s *reactor.Suspender) (any, error) {
		r := &reactorRun{e: e, ctx: ctx, job: job, env: env, st: newRunState(job)}
		return r.run(s)
	})
	if err != nil {
		logger.Debug("Run failed.", "error", err, "duration", time.Since(start))
		return nil, err
	}
	logger.Debug("Run finished.", "duration", time.Since(start))
	return v.(*Result), nil
}

func (r *reactorRun) run(s *reactor.Suspender) (*Result, error) {
	r.dispatch()
	if !r.st.settled() {
		if _, err := s.Await(func(resolve reactor.Resolve) { r.wake = resolve }); err != nil {
			return nil, err
		}
	}
	if r.st.firstErr != nil {
		return nil, r.st.firstErr
	}
	return r.st.result(), nil
}

// dispatch starts a task for every ready node unless an error was recorded.
func (r *reactorRun) dispatch() {
	for r.st.firstErr == nil {
		p, ok := r.st.pop()
		if !ok {
			return
		}
		if err := checkDeadline(r.ctx); err != nil {
			r.st.fail(p, r.job.failed(p, err).err)
			return
		}
		in := r.st.inputsOf(p)
		nctx, cancel := r.job.nodeContext(r.ctx, p)
		r.st.inflight++
		reactor.Spawn(r.e.loop, nctx, func(s *reactor.Suspender) {
			defer cancel()
			res := r.job.runAsync(s, p, in, r.env, r.e.cpu)
			r.finish(p, res)
		})
	}
}

// finish runs on the loop with the finishing node's task in control.
func (r *reactorRun) finish(p int, res nodeOutcome) {
	r.st.inflight--
	if res.err != nil {
		r.st.fail(p, res.err)
	} else {
		r.st.complete(p, res.out, res.delta)
		r.dispatch()
	}
	if r.st.firstErr == nil && r.st.inflight == 0 && r.st.remaining > 0 && len(r.st.ready) == 0 {
		panic(fmt.Sprintf("executor: run stalled with %d nodes remaining", r.st.remaining))
	}
	if r.st.settled() && r.wake != nil {
		r.wake(nil, nil)
	}
}
