package kvclient

import (
	"fmt"
	"sync/atomic"

	"github.com/vk/rankgrid/internal/reactor"
)

// State is the lifecycle state of one command.
type State int32

const (
	Created State = iota
	// Queued means the command is waiting for an admission permit.
	Queued
	// Issued means the command was written and its reply is pending.
	Issued
	Completed
	TimedOut
	// EnqueueFailed means the command never reached the wire.
	EnqueueFailed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Queued:
		return "queued"
	case Issued:
		return "issued"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case EnqueueFailed:
		return "enqueue_failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// command is one request in flight. Its reply path and timeout path race to
// move it out of Issued; whichever wins the transition delivers the result
// and the loser only cleans up.
type command struct {
	args  []string
	state atomic.Int32

	// dispatch runs a completion step in the right place: inline for
	// blocking callers, on the event loop for reactor callers.
	dispatch func(func())
	// finish hands the outcome to the waiting caller. Called at most once.
	finish func(Reply, error)
	timer  *reactor.Timer
}

func newCommand(args []string) *command {
	return &command{args: args, dispatch: func(fn func()) { fn() }}
}

func (c *command) State() State { return State(c.state.Load()) }

func (c *command) set(s State) { c.state.Store(int32(s)) }

func (c *command) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// arrive is called by the connection reader when the reply (or a
// connection failure) for this command shows up.
func (c *command) arrive(reply Reply, err error) {
	c.dispatch(func() {
		if !c.transition(Issued, Completed) {
			// Already timed out; the reply is dropped.
			return
		}
		c.finish(reply, err)
	})
}

// expire is the timeout path.
func (c *command) expire(err error) bool {
	if !c.transition(Issued, TimedOut) {
		return false
	}
	c.finish(Reply{}, err)
	return true
}
