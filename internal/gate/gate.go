package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// LimitFunc returns the permit count for an endpoint.
type LimitFunc func(endpoint string) int

type limiter struct {
	sem      *semaphore.Weighted
	size     int
	inflight atomic.Int64
}

// Gate is the blocking admission gate. It is safe for concurrent use and is
// shared across runs.
type Gate struct {
	limit LimitFunc

	mu       sync.Mutex
	limiters map[string]*limiter
}

// New creates a gate sizing each endpoint with limit.
func New(limit LimitFunc) *Gate {
	return &Gate{limit: limit, limiters: make(map[string]*limiter)}
}

func (g *Gate) limiterFor(endpoint string) *limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[endpoint]
	if !ok {
		size := g.limit(endpoint)
		if size <= 0 {
			panic(fmt.Sprintf("gate: non-positive limit %d for endpoint %q", size, endpoint))
		}
		l = &limiter{sem: semaphore.NewWeighted(int64(size)), size: size}
		g.limiters[endpoint] = l
	}
	return l
}

// Acquire blocks until a permit for endpoint is free or ctx is done.
// Waiters are admitted in FIFO order.
func (g *Gate) Acquire(ctx context.Context, endpoint string) (*Guard, error) {
	l := g.limiterFor(endpoint)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for permit on endpoint '%s': %w", endpoint, err)
	}
	return g.guard(endpoint, l), nil
}

// tryAcquire takes a permit only if one is immediately free.
func (g *Gate) tryAcquire(endpoint string) (*Guard, bool) {
	l := g.limiterFor(endpoint)
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	return g.guard(endpoint, l), true
}

func (g *Gate) guard(endpoint string, l *limiter) *Guard {
	l.inflight.Add(1)
	return &Guard{endpoint: endpoint, release: func() {
		l.inflight.Add(-1)
		l.sem.Release(1)
	}}
}

// Inflight returns the number of permits currently held for endpoint.
func (g *Gate) Inflight(endpoint string) int64 {
	return g.limiterFor(endpoint).inflight.Load()
}
