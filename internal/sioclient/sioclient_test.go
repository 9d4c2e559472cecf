package sioclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/zishang520/engine.io/v2/types"
)

func TestGetRejectsWrongEndpoints(t *testing.T) {
	reg, err := endpoint.NewRegistry(endpoint.Endpoint{ID: "kv", Kind: endpoint.KindRedis, Address: "127.0.0.1:6379"})
	require.NoError(t, err)
	c := NewCache(reg)
	ctx := ctxlog.Discard(context.Background())

	_, err = c.Get(ctx, "missing")
	assert.ErrorContains(t, err, "unknown endpoint 'missing'")

	_, err = c.Get(ctx, "kv")
	assert.ErrorContains(t, err, "not socketio")
}

func TestGetUnreachableEndpoint(t *testing.T) {
	reg, err := endpoint.NewRegistry(endpoint.Endpoint{
		ID:      "scorer",
		Kind:    endpoint.KindSocketIO,
		Address: "http://127.0.0.1:1/socket.io/",
	})
	require.NoError(t, err)
	c := NewCache(reg)
	defer c.Close()

	_, err = c.Get(ctxlog.Discard(context.Background()), "scorer")
	require.Error(t, err)
	assert.Equal(t, runerr.KindConnectivity, runerr.Classify(err))
}

func TestGetConnectsEndpointsIndependently(t *testing.T) {
	// Accepts TCP connections but never answers the websocket upgrade.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	reg, err := endpoint.NewRegistry(
		endpoint.Endpoint{
			ID:      "stuck",
			Kind:    endpoint.KindSocketIO,
			Address: "http://" + ln.Addr().String() + "/socket.io/",
			Policy:  endpoint.Policy{ConnectTimeout: time.Second},
		},
		endpoint.Endpoint{
			ID:      "down",
			Kind:    endpoint.KindSocketIO,
			Address: "http://127.0.0.1:1/socket.io/",
			Policy:  endpoint.Policy{ConnectTimeout: 50 * time.Millisecond},
		},
	)
	require.NoError(t, err)
	c := NewCache(reg)
	ctx := ctxlog.Discard(context.Background())

	stuckDone := make(chan struct{})
	go func() {
		defer close(stuckDone)
		_, _ = c.Get(ctx, "stuck")
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_, err = c.Get(ctx, "down")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "a slow endpoint must not hold up others")

	<-stuckDone
	c.Close()
}

// fakeConn records listeners and lets the test decide whether a reply comes.
type fakeConn struct {
	mu        sync.Mutex
	listeners map[types.EventName][]types.Listener
	emitted   []string
	emitErr   error
	reply     func(c *fakeConn, event string, body map[string]any)
}

func newFakeConn() *fakeConn {
	return &fakeConn{listeners: make(map[types.EventName][]types.Listener)}
}

func (c *fakeConn) Connected() bool { return true }
func (c *fakeConn) Id() string      { return "fake" }

func (c *fakeConn) Emit(event string, args ...any) error {
	if c.emitErr != nil {
		return c.emitErr
	}
	c.mu.Lock()
	c.emitted = append(c.emitted, event)
	c.mu.Unlock()
	if c.reply != nil {
		go c.reply(c, event, args[0].(map[string]any))
	}
	return nil
}

func (c *fakeConn) Once(event types.EventName, listeners ...types.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], listeners...)
	return nil
}

func (c *fakeConn) RemoveAllListeners(event types.EventName) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.listeners[event]
	delete(c.listeners, event)
	return ok
}

func (c *fakeConn) fire(event types.EventName, data ...any) {
	c.mu.Lock()
	ls := c.listeners[event]
	delete(c.listeners, event)
	c.mu.Unlock()
	for _, l := range ls {
		l(data...)
	}
}

func (c *fakeConn) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func TestRequest(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())

	t.Run("reply", func(t *testing.T) {
		conn := newFakeConn()
		conn.reply = func(c *fakeConn, event string, body map[string]any) {
			c.fire(types.EventName(event+":"+body["request_id"].(string)), map[string]any{"scores": []any{1.5}})
		}
		got, err := Request(ctx, conn, "score", map[string]any{"ids": []int64{1}}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"scores": []any{1.5}}, got)
		assert.Equal(t, []string{"score"}, conn.emitted)
		assert.Zero(t, conn.listenerCount())
	})

	t.Run("timeout removes the reply listener", func(t *testing.T) {
		conn := newFakeConn()
		for range 3 {
			_, err := Request(ctx, conn, "score", nil, 10*time.Millisecond)
			require.Error(t, err)
			assert.Equal(t, runerr.KindTimeout, runerr.Classify(err))
		}
		assert.Zero(t, conn.listenerCount())
	})

	t.Run("emit failure", func(t *testing.T) {
		conn := newFakeConn()
		conn.emitErr = errors.New("reserved event")
		_, err := Request(ctx, conn, "connect", nil, time.Second)
		assert.ErrorContains(t, err, "failed to emit 'connect'")
		assert.Zero(t, conn.listenerCount())
	})
}
