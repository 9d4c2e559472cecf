package reactor

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Task is a resumable computation. Its body runs on its own goroutine but
// only while whoever stepped it (the loop goroutine or a task it is
// currently running) waits for it to yield, so at most one task of a loop
// makes progress at any instant.
type Task struct {
	loop     *EventLoop
	resume   chan struct{}
	yield    chan bool
	finished bool

	// abandoned is set by loop teardown right before the final step.
	abandoned bool
}

// Suspender is the body's view of its task.
type Suspender struct {
	task *Task
	ctx  context.Context
}

// Resolve completes a pending Await. Only the first call has any effect.
type Resolve func(value any, err error)

// Spawn starts body as a new task and runs it until its first suspension
// or completion. It must be called from the loop goroutine or from another
// task body on the same loop. ctx cancellation is observed only at
// suspension points.
func Spawn(l *EventLoop, ctx context.Context, body func(s *Suspender)) *Task {
	t := &Task{loop: l, resume: make(chan struct{}), yield: make(chan bool)}
	s := &Suspender{task: t, ctx: ctx}
	go func() {
		<-t.resume
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("Task panicked", "panic", r)
			}
			select {
			case t.yield <- true:
			case <-l.done:
			}
		}()
		body(s)
	}()
	t.step()
	return t
}

// step hands control to the task and blocks until it suspends or finishes.
func (t *Task) step() {
	if t.finished {
		return
	}
	t.resume <- struct{}{}
	if <-t.yield {
		t.finished = true
	}
}

// Context returns the task's context.
func (s *Suspender) Context() context.Context { return s.ctx }

// Loop returns the loop the task runs on.
func (s *Suspender) Loop() *EventLoop { return s.task.loop }

// Await suspends the task until resolve is called, the task's context is
// done, or start resolves synchronously (in which case the task does not
// yield at all). start runs on the task with the loop's control, so it may
// touch loop-confined state.
//
// Resolution is single-shot. A resolver that loses the race, for example a
// reply arriving after the context deadline, is a no-op.
func (s *Suspender) Await(start func(resolve Resolve)) (any, error) {
	t := s.task
	if t.abandoned {
		return nil, ErrNotRunning
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	var (
		once     sync.Once
		mu       sync.Mutex
		starting = true
		early    bool
		val      any
		err      error
	)
	resolve := func(v any, e error) {
		once.Do(func() {
			val, err = v, e
			mu.Lock()
			inline := starting
			early = inline
			mu.Unlock()
			if inline {
				return
			}
			if postErr := t.loop.Post(t.step); postErr != nil {
				t.loop.logger.Debug("Dropping task resumption, loop is not running.")
			}
		})
	}

	stop := context.AfterFunc(s.ctx, func() { resolve(nil, s.ctx.Err()) })
	defer stop()

	start(resolve)

	mu.Lock()
	starting = false
	resolvedEarly := early
	mu.Unlock()
	if resolvedEarly {
		return val, err
	}

	t.loop.taskSeq++
	t.loop.suspended[t] = t.loop.taskSeq
	t.yield <- false
	<-t.resume
	delete(t.loop.suspended, t)
	if t.abandoned {
		// The loop is tearing down and stepped this task one last time.
		// Unwinding here runs its deferred cleanup on the loop's turn.
		runtime.Goexit()
	}
	return val, err
}

// Offload runs fn on pool and suspends until it finishes. If the context
// ends first the task resumes with the context error and fn's eventual
// result is discarded.
func (s *Suspender) Offload(pool Submitter, fn func() (any, error)) (any, error) {
	return s.Await(func(resolve Resolve) {
		if err := pool.Submit(func() {
			v, e := fn()
			resolve(v, e)
		}); err != nil {
			resolve(nil, err)
		}
	})
}

// Sleep suspends the task on a loop timer.
func (s *Suspender) Sleep(d time.Duration) error {
	if d <= 0 {
		return s.ctx.Err()
	}
	var tm *Timer
	_, err := s.Await(func(resolve Resolve) {
		var armErr error
		tm, armErr = s.task.loop.AfterFunc(d, func() { resolve(nil, nil) })
		if armErr != nil {
			resolve(nil, armErr)
		}
	})
	if tm != nil {
		tm.Stop()
	}
	return err
}

// Submitter accepts work for a worker pool.
type Submitter interface {
	Submit(fn func()) error
}

// Block runs body as a task on l and waits for its outcome from outside the
// loop. The outcome is handed over exactly once through a buffered channel.
func Block(ctx context.Context, l *EventLoop, body func(s *Suspender) (any, error)) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	err := l.Post(func() {
		Spawn(l, ctx, func(s *Suspender) {
			v, err := body(s)
			ch <- outcome{v: v, err: err}
		})
	})
	if err != nil {
		return nil, err
	}
	select {
	case o := <-ch:
		return o.v, o.err
	case <-l.Done():
		select {
		case o := <-ch:
			return o.v, o.err
		default:
			return nil, ErrNotRunning
		}
	}
}
