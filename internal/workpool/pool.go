// Package workpool provides the named CPU and IO worker pools executors
// dispatch node work onto.
//
// Submit never blocks: work is queued FIFO without bound. A dispatcher hands
// queued jobs, in order, to a sourcegraph/conc pool capped at the pool size.
// A panicking job is recovered and counted; it never takes a worker down.
package workpool

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool is closed")

// Stats reports pool counters.
type Stats struct {
	Submitted  int64
	Completed  int64
	Panicked   int64
	InFlight   int64
	QueueDepth int64
}

// Pool is a fixed-size FIFO worker pool.
type Pool struct {
	name    string
	workers *pool.Pool
	done    chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	inFlight  atomic.Int64
}

// New starts a pool running at most size jobs at once. A non-positive size
// means 1.
func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		name:    name,
		workers: pool.New().WithMaxGoroutines(size),
		done:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.dispatch()
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Submit queues fn.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, fn)
	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Close stops accepting work, runs everything already queued and waits for
// it to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()
	<-p.done
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	depth := int64(len(p.queue))
	p.mu.Unlock()
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Panicked:   p.panicked.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: depth,
	}
}

// dispatch feeds queued jobs to the conc pool. Go blocks while every
// worker is busy, which keeps the hand-off FIFO.
func (p *Pool) dispatch() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			p.workers.Wait()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.workers.Go(func() { p.run(fn) })
	}
}

func (p *Pool) run(fn func()) {
	p.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			slog.Error("Worker pool job panicked.", "pool", p.name, "panic", r)
		}
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()
	fn()
}
