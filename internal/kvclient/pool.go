package kvclient

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/reactor"
)

// Pool caches one Client per redis endpoint.
type Pool struct {
	endpoints *endpoint.Registry
	gate      *gate.Gate
	agate     *gate.AsyncGate
	loop      *reactor.EventLoop
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool. agate and loop may be nil when no reactor runs.
func NewPool(endpoints *endpoint.Registry, g *gate.Gate, agate *gate.AsyncGate, loop *reactor.EventLoop, logger *slog.Logger) *Pool {
	return &Pool{
		endpoints: endpoints,
		gate:      g,
		agate:     agate,
		loop:      loop,
		logger:    logger,
		clients:   make(map[string]*Client),
	}
}

// Client returns the cached client for a redis endpoint.
func (p *Pool) Client(id string) (*Client, error) {
	ep, ok := p.endpoints.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint '%s'", id)
	}
	if ep.Kind != endpoint.KindRedis {
		return nil, fmt.Errorf("endpoint '%s' is %s, not %s", id, ep.Kind, endpoint.KindRedis)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[id]
	if !ok {
		c = New(ep, p.gate, p.agate, p.loop, p.logger)
		p.clients[id] = c
	}
	return c, nil
}

// Close closes every cached client.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}
