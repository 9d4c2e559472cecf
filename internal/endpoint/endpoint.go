// Package endpoint describes the external services operators may call and
// the admission policy that protects each of them.
package endpoint

import (
	"fmt"
	"sort"
	"time"
)

// Kind is the protocol spoken by an endpoint.
type Kind string

const (
	KindRedis    Kind = "redis"
	KindSocketIO Kind = "socketio"
)

const (
	// DefaultMaxInflight applies when a policy leaves max_inflight unset.
	DefaultMaxInflight = 64
	// DefaultConnectTimeout applies when a policy leaves connect_timeout_ms unset.
	DefaultConnectTimeout = 50 * time.Millisecond
)

// Policy bounds the load sent to one endpoint.
type Policy struct {
	MaxInflight    int
	ConnectTimeout time.Duration
	// RequestTimeout of zero disables the per-request timer.
	RequestTimeout time.Duration
}

// Endpoint is one configured external dependency.
type Endpoint struct {
	ID      string
	Kind    Kind
	Address string
	// Namespace is the socket.io namespace; unused for redis.
	Namespace string
	Policy    Policy
}

// EffectiveMaxInflight returns the permit count used for the endpoint.
func (p Policy) EffectiveMaxInflight() int {
	if p.MaxInflight <= 0 {
		return DefaultMaxInflight
	}
	return p.MaxInflight
}

// EffectiveConnectTimeout returns the dial timeout used for the endpoint.
func (p Policy) EffectiveConnectTimeout() time.Duration {
	if p.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return p.ConnectTimeout
}

// Registry is the read-only set of endpoints available to a run.
type Registry struct {
	byID map[string]Endpoint
}

// NewRegistry indexes endpoints by id. Duplicate ids and unknown kinds are
// rejected.
func NewRegistry(endpoints ...Endpoint) (*Registry, error) {
	r := &Registry{byID: make(map[string]Endpoint, len(endpoints))}
	for _, ep := range endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoint with empty id")
		}
		if _, dup := r.byID[ep.ID]; dup {
			return nil, fmt.Errorf("duplicate endpoint id '%s'", ep.ID)
		}
		switch ep.Kind {
		case KindRedis, KindSocketIO:
		default:
			return nil, fmt.Errorf("endpoint '%s' has unknown kind '%s'", ep.ID, ep.Kind)
		}
		r.byID[ep.ID] = ep
	}
	return r, nil
}

// Get returns the endpoint with the given id.
func (r *Registry) Get(id string) (Endpoint, bool) {
	if r == nil {
		return Endpoint{}, false
	}
	ep, ok := r.byID[id]
	return ep, ok
}

// Policy returns the policy for id, or the zero policy for unknown ids.
func (r *Registry) Policy(id string) Policy {
	ep, _ := r.Get(id)
	return ep.Policy
}

// IDs returns all endpoint ids, sorted.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
