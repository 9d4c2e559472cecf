package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/workpool"
)

// Parallel dispatches ready nodes onto worker pools. Operators flagged as IO
// go to the IO pool, everything else to the CPU pool.
type Parallel struct {
	cpu *workpool.Pool
	io  *workpool.Pool
}

// NewParallel creates the parallel executor. io may be nil, in which case
// every node runs on cpu.
func NewParallel(cpu, io *workpool.Pool) *Parallel {
	if io == nil {
		io = cpu
	}
	return &Parallel{cpu: cpu, io: io}
}

func (*Parallel) Name() string { return "parallel" }

// Execute runs job. After the first failure no further node is dispatched,
// but the call only returns once every dispatched node has finished.
func (e *Parallel) Execute(ctx context.Context, job *Job, env *registry.Env) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "executor", e.Name())
	logger.Debug("Starting run.", "nodes", job.graph.Len())
	start := time.Now()

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	st := newRunState(job)

	mu.Lock()
	defer mu.Unlock()
	for {
		if st.firstErr != nil {
			for st.inflight > 0 {
				cond.Wait()
			}
			logger.Debug("Run failed.", "error", st.firstErr, "duration", time.Since(start))
			return nil, st.firstErr
		}
		if st.remaining == 0 {
			break
		}

		for st.firstErr == nil {
			p, ok := st.pop()
			if !ok {
				break
			}
			if err := checkDeadline(ctx); err != nil {
				st.fail(p, job.failed(p, err).err)
				break
			}
			in := st.inputsOf(p)
			pool := e.cpu
			if job.specs[p].IsIO {
				pool = e.io
			}
			st.inflight++
			err := pool.Submit(func() {
				res := job.runSync(ctx, p, in, env)
				mu.Lock()
				defer mu.Unlock()
				st.inflight--
				if res.err != nil {
					st.fail(p, res.err)
				} else {
					st.complete(p, res.out, res.delta)
				}
				cond.Broadcast()
			})
			if err != nil {
				st.inflight--
				st.fail(p, job.failed(p, fmt.Errorf("dispatch to %s pool: %w", pool.Name(), err)).err)
			}
		}

		if st.firstErr == nil && st.inflight == 0 && len(st.ready) == 0 && st.remaining > 0 {
			panic("executor: no ready or running nodes left but the run is incomplete")
		}
		if st.firstErr == nil && st.remaining > 0 {
			cond.Wait()
		}
	}

	logger.Debug("Run finished.", "duration", time.Since(start))
	return st.result(), nil
}
