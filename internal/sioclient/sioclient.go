// Package sioclient keeps one socket.io connection per socketio endpoint and
// implements a request/response exchange on top of it.
package sioclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Cache owns the socket.io connections of a process.
type Cache struct {
	endpoints *endpoint.Registry
	// InsecureSkipVerify disables TLS verification for wss endpoints.
	InsecureSkipVerify bool

	mu      sync.Mutex
	entries map[string]*entry
}

// entry serializes connection attempts to one endpoint only.
type entry struct {
	mu sync.Mutex
	io *socket.Socket
}

// NewCache creates an empty cache.
func NewCache(endpoints *endpoint.Registry) *Cache {
	return &Cache{endpoints: endpoints, entries: make(map[string]*entry)}
}

type connectResult struct {
	err error
}

// Get returns a connected socket for endpoint id, connecting on first use.
func (c *Cache) Get(ctx context.Context, id string) (*socket.Socket, error) {
	ep, ok := c.endpoints.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint '%s'", id)
	}
	if ep.Kind != endpoint.KindSocketIO {
		return nil, fmt.Errorf("endpoint '%s' is %s, not %s", id, ep.Kind, endpoint.KindSocketIO)
	}

	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.io != nil && e.io.Connected() {
		return e.io, nil
	}

	io, err := c.connect(ctx, ep)
	if err != nil {
		return nil, err
	}
	e.io = io
	return io, nil
}

func (c *Cache) connect(ctx context.Context, ep endpoint.Endpoint) (*socket.Socket, error) {
	logger := ctxlog.FromContext(ctx).With("endpoint", ep.ID, "url", ep.Address)

	parsedURL, err := url.Parse(ep.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL for endpoint '%s': %w", ep.ID, err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if c.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	namespace := ep.Namespace
	if namespace == "" {
		namespace = "/"
	}
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	done := make(chan connectResult, 1)
	io.Once(types.EventName("connect"), func(...any) {
		select {
		case done <- connectResult{}:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case done <- connectResult{err: err}:
		default:
		}
	})

	timeout := ep.Policy.EffectiveConnectTimeout()
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	io.Connect()
	select {
	case <-connCtx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("%w: timed out after %v connecting to socket.io endpoint '%s'", runerr.ErrConnectivity, timeout, ep.ID)
	case res := <-done:
		if res.err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("%w: socket.io endpoint '%s': %v", runerr.ErrConnectivity, ep.ID, res.err)
		}
	}
	logger.Debug("Connected to socket.io endpoint.", "sid", io.Id())
	return io, nil
}

type opResult struct {
	value any
	err   error
}

// Conn is the part of a socket.io client that Request uses.
// *socket.Socket implements it.
type Conn interface {
	Connected() bool
	Id() string
	Emit(event string, args ...any) error
	Once(event types.EventName, listeners ...types.Listener) error
	RemoveAllListeners(event types.EventName) bool
}

// Request emits event with payload (a request_id is added) and waits for
// the reply on "<event>:<request_id>". The reply listener is removed when
// the request gives up.
func Request(ctx context.Context, io Conn, event string, payload map[string]any, timeout time.Duration) (any, error) {
	if !io.Connected() {
		return nil, fmt.Errorf("%w: socket.io client is not connected", runerr.ErrConnectivity)
	}
	requestID := uuid.NewString()
	replyEvent := event + ":" + requestID
	logger := ctxlog.FromContext(ctx).With("sid", io.Id(), "event", event, "request_id", requestID)

	done := make(chan opResult, 1)
	if err := io.Once(types.EventName(replyEvent), func(data ...any) {
		var value any
		if len(data) > 0 {
			value = data[0]
		}
		select {
		case done <- opResult{value: value}:
		default:
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to listen for '%s': %w", replyEvent, err)
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["request_id"] = requestID
	logger.Debug("Emitting request.")
	if err := io.Emit(event, body); err != nil {
		io.RemoveAllListeners(types.EventName(replyEvent))
		return nil, fmt.Errorf("failed to emit '%s': %w", event, err)
	}

	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-opCtx.Done():
		io.RemoveAllListeners(types.EventName(replyEvent))
		return nil, fmt.Errorf("%w: waiting for '%s': %v", runerr.ErrTimeout, replyEvent, opCtx.Err())
	case res := <-done:
		return res.value, res.err
	}
}

// Close disconnects every socket.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		e.mu.Lock()
		if e.io != nil {
			e.io.Disconnect()
			e.io = nil
		}
		e.mu.Unlock()
		delete(c.entries, id)
	}
}
