// Package kvclient is a pipelined RESP client for the key-value endpoints
// operators read from.
//
// Commands can be issued from blocking code (Do) through the shared
// gate.Gate, or from reactor tasks (DoAsync) through the gate.AsyncGate.
// Either way each command is resolved exactly once: by its reply, or by its
// request timeout, whichever comes first. A reply arriving after the timeout
// is read off the wire to keep the pipeline in order and then discarded.
package kvclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/runerr"
)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("kv client closed")

type conn struct {
	nc net.Conn

	mu      sync.Mutex
	pending []*command
	dead    bool
}

// Client talks to one redis-protocol endpoint.
type Client struct {
	ep     endpoint.Endpoint
	gate   *gate.Gate
	agate  *gate.AsyncGate
	loop   *reactor.EventLoop
	logger *slog.Logger

	mu     sync.Mutex
	conn   *conn
	closed bool

	attachOnce sync.Once
	detached   atomic.Bool
}

// New creates a client. The connection is established lazily. agate and
// loop may be nil when only the blocking API is used.
func New(ep endpoint.Endpoint, g *gate.Gate, agate *gate.AsyncGate, loop *reactor.EventLoop, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		ep:     ep,
		gate:   g,
		agate:  agate,
		loop:   loop,
		logger: logger.With("endpoint", ep.ID),
	}
}

// Endpoint returns the endpoint the client talks to.
func (c *Client) Endpoint() endpoint.Endpoint { return c.ep }

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool { return c.live() != nil }

func (c *Client) live() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connect establishes the connection if there is none.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.ep.Policy.EffectiveConnectTimeout()}
	nc, err := d.DialContext(ctx, "tcp", c.ep.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to endpoint '%s' at %s: %v", runerr.ErrConnectivity, c.ep.ID, c.ep.Address, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		nc.Close()
		return nil, ErrClosed
	}
	if c.conn != nil {
		// Lost a concurrent dial race.
		nc.Close()
		return c.conn, nil
	}
	cn := &conn{nc: nc}
	c.conn = cn
	go c.readLoop(cn)
	c.logger.Debug("Connected to endpoint.", "address", c.ep.Address)
	return cn, nil
}

func (c *Client) readLoop(cn *conn) {
	r := bufio.NewReader(cn.nc)
	for {
		reply, err := ReadReply(r)
		if err != nil {
			c.drop(cn, err)
			return
		}
		cn.mu.Lock()
		if len(cn.pending) == 0 {
			cn.mu.Unlock()
			c.drop(cn, fmt.Errorf("%w: reply without a pending command", errProtocol))
			return
		}
		cmd := cn.pending[0]
		cn.pending[0] = nil
		cn.pending = cn.pending[1:]
		cn.mu.Unlock()

		cmd.arrive(reply, nil)
	}
}

// drop tears the connection down and fails every pending command.
func (c *Client) drop(cn *conn, cause error) {
	cn.mu.Lock()
	cn.dead = true
	pending := cn.pending
	cn.pending = nil
	cn.mu.Unlock()
	cn.nc.Close()

	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.logger.Warn("Connection lost.", "error", cause, "pending", len(pending))
	}
	err := fmt.Errorf("%w: endpoint '%s' connection lost: %v", runerr.ErrConnectivity, c.ep.ID, cause)
	for _, cmd := range pending {
		cmd.arrive(Reply{}, err)
	}
}

// issue writes cmd and queues it for its reply, atomically with respect to
// other writers so reply order matches write order.
func (cn *conn) issue(cmd *command) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.dead {
		return fmt.Errorf("%w: connection closed while waiting for permit", runerr.ErrConnectivity)
	}
	cmd.set(Issued)
	if _, err := cn.nc.Write(Encode(cmd.args...)); err != nil {
		cmd.set(EnqueueFailed)
		return fmt.Errorf("%w: writing command: %v", runerr.ErrConnectivity, err)
	}
	cn.pending = append(cn.pending, cmd)
	return nil
}

func (c *Client) timeoutErr(cmd *command) error {
	return fmt.Errorf("%w: %s on endpoint '%s' exceeded %v", runerr.ErrTimeout, cmd.args[0], c.ep.ID, c.ep.Policy.RequestTimeout)
}

type result struct {
	reply Reply
	err   error
}

// Do issues a command and blocks for its reply. It waits for a permit from
// the shared gate first.
func (c *Client) Do(ctx context.Context, args ...string) (Reply, error) {
	cmd := newCommand(args)
	cmd.set(Queued)

	guard, err := c.gate.Acquire(ctx, c.ep.ID)
	if err != nil {
		cmd.set(EnqueueFailed)
		return Reply{}, err
	}
	defer guard.Release()

	// Time passed while queued; the connection may have gone away.
	cn, err := c.connect(ctx)
	if err != nil {
		cmd.set(EnqueueFailed)
		return Reply{}, err
	}

	done := make(chan result, 1)
	cmd.finish = func(r Reply, err error) { done <- result{reply: r, err: err} }
	if err := cn.issue(cmd); err != nil {
		cmd.set(EnqueueFailed)
		return Reply{}, err
	}

	waitCtx := ctx
	if d := c.ep.Policy.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	select {
	case res := <-done:
		return unwrap(res.reply, res.err)
	case <-waitCtx.Done():
		timeout := c.timeoutErr(cmd)
		if ctx.Err() != nil {
			timeout = fmt.Errorf("%w: %v", runerr.ErrTimeout, ctx.Err())
		}
		if cmd.expire(timeout) {
			res := <-done
			return Reply{}, res.err
		}
		// The reply won the race.
		res := <-done
		return unwrap(res.reply, res.err)
	}
}

// DoAsync issues a command from a reactor task and suspends until the reply
// or the request timeout resolves it.
func (c *Client) DoAsync(s *reactor.Suspender, args ...string) (Reply, error) {
	if c.agate == nil || c.loop == nil {
		return Reply{}, fmt.Errorf("kv client for '%s' has no reactor wiring", c.ep.ID)
	}
	c.attachOnce.Do(func() {
		if _, err := c.loop.Attach(c); err != nil {
			c.logger.Debug("Could not attach client to event loop.", "error", err)
		}
	})

	cmd := newCommand(args)
	cmd.set(Queued)

	guard, err := c.agate.Acquire(s, c.ep.ID)
	if err != nil {
		cmd.set(EnqueueFailed)
		return Reply{}, err
	}
	defer guard.Release()

	cn := c.live()
	if cn == nil {
		v, err := s.Await(func(resolve reactor.Resolve) {
			go func() {
				cn, err := c.connect(s.Context())
				resolve(cn, err)
			}()
		})
		if err != nil {
			cmd.set(EnqueueFailed)
			return Reply{}, err
		}
		cn = v.(*conn)
	}

	cmd.dispatch = func(fn func()) {
		if c.detached.Load() {
			return
		}
		_ = c.loop.Post(fn)
	}
	v, err := s.Await(func(resolve reactor.Resolve) {
		cmd.finish = func(r Reply, err error) { resolve(r, err) }
		if err := cn.issue(cmd); err != nil {
			cmd.set(EnqueueFailed)
			resolve(nil, err)
			return
		}
		if d := c.ep.Policy.RequestTimeout; d > 0 {
			cmd.timer, _ = c.loop.AfterFunc(d, func() { cmd.expire(c.timeoutErr(cmd)) })
		}
	})
	if cmd.timer != nil {
		cmd.timer.Stop()
	}
	if err != nil {
		// The task's own deadline may have won; make sure a late reply is
		// discarded.
		if cmd.transition(Issued, TimedOut) {
			err = fmt.Errorf("%w: %v", runerr.ErrTimeout, err)
		}
		return Reply{}, err
	}
	return unwrap(v.(Reply), nil)
}

func unwrap(r Reply, err error) (Reply, error) {
	if err != nil {
		return Reply{}, err
	}
	if serr := r.Err(); serr != nil {
		return Reply{}, serr
	}
	return r, nil
}

// Detach stops delivering completions to the event loop. It is called by
// the loop on teardown.
func (c *Client) Detach() {
	c.detached.Store(true)
}

// Close closes the connection and fails pending commands.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cn := c.conn
	c.mu.Unlock()
	if cn != nil {
		c.drop(cn, ErrClosed)
	}
	return nil
}
