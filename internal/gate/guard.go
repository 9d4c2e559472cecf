// Package gate bounds the number of in-flight requests per external
// endpoint.
//
// Gate is the blocking variant used from worker-pool goroutines. AsyncGate
// is the reactor variant: a task that cannot get a slot suspends and is
// resumed in first-come-first-served order as slots free up. Both hand out
// a *Guard that must be released exactly once.
package gate

// Guard is a held permit. Use Move to hand it to another owner; the
// moved-from guard becomes inert and releases nothing.
type Guard struct {
	endpoint string
	release  func()
}

// Endpoint returns the endpoint the permit belongs to.
func (g *Guard) Endpoint() string { return g.endpoint }

// Held reports whether this guard still owns a permit.
func (g *Guard) Held() bool { return g != nil && g.release != nil }

// Release gives the permit back. Releasing an inert guard is a no-op.
func (g *Guard) Release() {
	if g == nil || g.release == nil {
		return
	}
	release := g.release
	g.release = nil
	release()
}

// Move transfers the permit to a new guard.
func (g *Guard) Move() *Guard {
	moved := &Guard{endpoint: g.endpoint, release: g.release}
	g.release = nil
	return moved
}
