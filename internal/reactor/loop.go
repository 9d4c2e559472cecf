package reactor

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/b97tsk/async"
)

// State is the lifecycle state of an EventLoop.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrNotRunning is returned by Post and resource registration outside
	// the Running state.
	ErrNotRunning = errors.New("EventLoop not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("EventLoop already started")
)

// callbackPath names a posted callback's coroutine. The zero-padded
// sequence keeps executor path order equal to post order.
func callbackPath(seq uint64) string {
	return fmt.Sprintf("/reactor/callback/%016x", seq)
}

// EventLoop runs posted callbacks one at a time on one dedicated goroutine.
// The callbacks themselves are coroutines of an async.Executor that only
// this goroutine runs.
type EventLoop struct {
	logger *slog.Logger
	state  atomic.Int32
	exec   async.Executor

	mu        sync.Mutex
	resources map[*Handle]struct{}
	postSeq   uint64

	// suspended holds tasks parked in Await. Loop-confined.
	suspended map[*Task]uint64
	taskSeq   uint64

	wake chan struct{}
	// done is closed by the loop goroutine as its very last action. It is
	// captured by that goroutine up front so waiters never depend on the
	// loop object outliving the goroutine.
	done chan struct{}
}

// New creates an idle loop.
func New(logger *slog.Logger) *EventLoop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &EventLoop{
		logger:    logger.With("component", "reactor"),
		resources: make(map[*Handle]struct{}),
		suspended: make(map[*Task]uint64),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	l.exec.Autorun(l.signal)
	return l
}

// State returns the current lifecycle state.
func (l *EventLoop) State() State { return State(l.state.Load()) }

// Done is closed once the loop goroutine has exited.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Start launches the loop goroutine and returns once it is Running.
func (l *EventLoop) Start() error {
	if !l.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		return ErrAlreadyStarted
	}
	started := make(chan struct{})
	go l.run(started, l.done)
	<-started
	l.logger.Debug("Event loop started.")
	return nil
}

// Stop requests shutdown. It is idempotent, never blocks and is safe to call
// from any goroutine, including from a callback running on the loop.
func (l *EventLoop) Stop() {
	for {
		switch State(l.state.Load()) {
		case Idle:
			if l.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
				close(l.done)
				return
			}
		case Starting:
			runtime.Gosched()
		case Running:
			// Under mu so that no Post lands after the final drain.
			l.mu.Lock()
			stopped := l.state.CompareAndSwap(int32(Running), int32(Stopping))
			l.mu.Unlock()
			if stopped {
				l.signal()
				return
			}
		default:
			return
		}
	}
}

// Close stops the loop and waits for its goroutine to exit. It must not be
// called from the loop goroutine: it would wait for itself forever.
func (l *EventLoop) Close() {
	l.Stop()
	<-l.done
}

// Post queues fn to run on the loop goroutine. Work is accepted only while
// the loop is Running.
func (l *EventLoop) Post(fn func()) error {
	l.mu.Lock()
	if State(l.state.Load()) != Running {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.postSeq++
	l.exec.Spawn(callbackPath(l.postSeq), func(co *async.Coroutine) async.Result {
		l.invoke(fn)
		return co.End()
	})
	l.mu.Unlock()
	return nil
}

func (l *EventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *EventLoop) run(started chan<- struct{}, done chan struct{}) {
	l.state.Store(int32(Running))
	close(started)

	for range l.wake {
		l.exec.Run()
		if State(l.state.Load()) != Running {
			break
		}
	}

	l.teardown()
	l.state.Store(int32(Stopped))
	l.logger.Debug("Event loop stopped.")
	close(done)
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Callback panicked on event loop", "panic", r)
		}
	}()
	fn()
}

// teardown drains queued work, abandons suspended tasks, then closes owned
// resources and detaches external ones.
func (l *EventLoop) teardown() {
	// Post is closed by now, so Run drains everything ever accepted.
	l.exec.Run()
	l.abandonSuspended()

	l.mu.Lock()
	handles := make([]*Handle, 0, len(l.resources))
	for h := range l.resources {
		handles = append(handles, h)
	}
	clear(l.resources)
	l.mu.Unlock()

	for _, h := range handles {
		if h.owned != nil {
			if err := h.owned.Close(); err != nil {
				l.logger.Warn("Failed to close loop-owned resource", "error", err)
			}
			continue
		}
		h.external.Detach()
	}
	if len(handles) > 0 {
		l.logger.Debug("Released outstanding resources.", "count", len(handles))
	}
}

// abandonSuspended unwinds every parked task, oldest first, on the loop
// goroutine. A task's deferred cleanup (releasing gate permits, say) thus
// runs serialized with everything else loop-confined.
func (l *EventLoop) abandonSuspended() {
	abandoned := 0
	for len(l.suspended) > 0 {
		tasks := make([]*Task, 0, len(l.suspended))
		for t := range l.suspended {
			tasks = append(tasks, t)
		}
		slices.SortFunc(tasks, func(a, b *Task) int {
			return cmp.Compare(l.suspended[a], l.suspended[b])
		})
		for _, t := range tasks {
			delete(l.suspended, t)
			t.abandoned = true
			t.step()
			abandoned++
		}
	}
	if abandoned > 0 {
		l.logger.Debug("Abandoned suspended tasks.", "count", abandoned)
	}
}

// Detacher is an externally owned resource the loop must let go of, but not
// free, on teardown.
type Detacher interface {
	Detach()
}

// Handle tracks one resource registered with the loop.
type Handle struct {
	loop     *EventLoop
	owned    io.Closer
	external Detacher
}

// Own registers a resource the loop is responsible for closing if it is
// still outstanding at teardown.
func (l *EventLoop) Own(c io.Closer) (*Handle, error) {
	return l.register(&Handle{loop: l, owned: c})
}

// Attach registers an externally owned resource that is only detached at
// teardown.
func (l *EventLoop) Attach(d Detacher) (*Handle, error) {
	return l.register(&Handle{loop: l, external: d})
}

func (l *EventLoop) register(h *Handle) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if State(l.state.Load()) != Running {
		return nil, ErrNotRunning
	}
	l.resources[h] = struct{}{}
	return h, nil
}

// Release forgets the resource without closing or detaching it.
func (h *Handle) Release() {
	h.loop.mu.Lock()
	delete(h.loop.resources, h)
	h.loop.mu.Unlock()
}

// Outstanding returns the number of registered resources.
func (l *EventLoop) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resources)
}
