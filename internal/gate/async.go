package gate

import (
	"fmt"

	"github.com/vk/rankgrid/internal/reactor"
)

type waiter struct {
	resolve   reactor.Resolve
	granted   *Guard
	cancelled bool
}

type slot struct {
	endpoint string
	size     int
	held     int
	waiters  []*waiter
}

// AsyncGate is the reactor admission gate. All methods, and Release on the
// guards it hands out, must run on the owning loop (the loop goroutine or a
// task body), which is what makes it lock-free.
type AsyncGate struct {
	limit LimitFunc
	slots map[string]*slot
}

// NewAsync creates an async gate sizing each endpoint with limit.
func NewAsync(limit LimitFunc) *AsyncGate {
	return &AsyncGate{limit: limit, slots: make(map[string]*slot)}
}

func (g *AsyncGate) slotFor(endpoint string) *slot {
	sl, ok := g.slots[endpoint]
	if !ok {
		size := g.limit(endpoint)
		if size <= 0 {
			panic(fmt.Sprintf("gate: non-positive limit %d for endpoint %q", size, endpoint))
		}
		sl = &slot{endpoint: endpoint, size: size}
		g.slots[endpoint] = sl
	}
	return sl
}

// Acquire returns a permit, suspending the task behind earlier waiters when
// none is free. If the task's context ends first it returns the context
// error and holds nothing.
func (g *AsyncGate) Acquire(s *reactor.Suspender, endpoint string) (*Guard, error) {
	sl := g.slotFor(endpoint)
	if sl.held < sl.size && len(sl.waiters) == 0 {
		sl.held++
		return g.guard(sl), nil
	}

	w := &waiter{}
	_, err := s.Await(func(resolve reactor.Resolve) {
		w.resolve = resolve
		sl.waiters = append(sl.waiters, w)
	})
	if err != nil {
		w.cancelled = true
		if w.granted != nil {
			// Granted in the same instant the context ended; pass it on.
			w.granted.Release()
		}
		return nil, err
	}
	return w.granted, nil
}

func (g *AsyncGate) guard(sl *slot) *Guard {
	return &Guard{endpoint: sl.endpoint, release: func() { g.release(sl) }}
}

// release hands the permit straight to the oldest live waiter, or frees it.
func (g *AsyncGate) release(sl *slot) {
	for len(sl.waiters) > 0 {
		w := sl.waiters[0]
		sl.waiters[0] = nil
		sl.waiters = sl.waiters[1:]
		if w.cancelled {
			continue
		}
		w.granted = g.guard(sl)
		w.resolve(nil, nil)
		return
	}
	sl.held--
}

// Held returns the permits held for endpoint.
func (g *AsyncGate) Held(endpoint string) int { return g.slotFor(endpoint).held }

// Waiting returns the number of queued waiters for endpoint, including
// cancelled ones not yet skipped.
func (g *AsyncGate) Waiting(endpoint string) int { return len(g.slotFor(endpoint).waiters) }
