package kvclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/vk/rankgrid/internal/testutil/respserver"
)

type fixture struct {
	server *respserver.Server
	loop   *reactor.EventLoop
	gate   *gate.Gate
	agate  *gate.AsyncGate
	client *Client
}

func newFixture(t *testing.T, policy endpoint.Policy) *fixture {
	t.Helper()
	srv := respserver.New(t)
	srv.HSet("user:1", "country", "US")
	srv.HSet("user:1", "name", "ana")
	srv.RPush("follow:1", "2", "3", "4")

	loop := reactor.New(nil)
	require.NoError(t, loop.Start())
	t.Cleanup(loop.Close)

	limit := func(string) int { return policy.EffectiveMaxInflight() }
	g := gate.New(limit)
	ag := gate.NewAsync(limit)
	ep := endpoint.Endpoint{ID: "kv", Kind: endpoint.KindRedis, Address: srv.Addr(), Policy: policy}
	c := New(ep, g, ag, loop, nil)
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{server: srv, loop: loop, gate: g, agate: ag, client: c}
}

func TestBlockingCommands(t *testing.T) {
	f := newFixture(t, endpoint.Policy{RequestTimeout: time.Second})
	ctx := context.Background()

	v, found, err := f.client.HGet(ctx, "user:1", "country")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "US", v)

	_, found, err = f.client.HGet(ctx, "user:404", "country")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := f.client.LRange(ctx, "follow:1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, list)

	all, err := f.client.HGetAll(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"country": "US", "name": "ana"}, all)

	empty, err := f.client.HGetAll(ctx, "user:404")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.client.Do(ctx, "NOPE")
	var serr *ServerError
	assert.ErrorAs(t, err, &serr)
	assert.Zero(t, f.gate.Inflight("kv"), "permits are released after each command")
}

func TestAsyncCommands(t *testing.T) {
	f := newFixture(t, endpoint.Policy{RequestTimeout: time.Second})

	_, err := reactor.Block(context.Background(), f.loop, func(s *reactor.Suspender) (any, error) {
		v, found, err := f.client.HGetAsync(s, "user:1", "country")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "US", v)

		list, err := f.client.LRangeAsync(s, "follow:1", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3", "4"}, list)

		all, err := f.client.HGetAllAsync(s, "user:1")
		require.NoError(t, err)
		assert.Equal(t, "ana", all["name"])

		assert.Equal(t, 0, f.agate.Held("kv"))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestConcurrentAsyncRespectsInflightLimit(t *testing.T) {
	f := newFixture(t, endpoint.Policy{MaxInflight: 2, RequestTimeout: time.Second})
	f.server.SetDelay("LRANGE", 20*time.Millisecond)

	start := time.Now()
	_, err := reactor.Block(context.Background(), f.loop, func(s *reactor.Suspender) (any, error) {
		remaining := 4
		var done reactor.Resolve
		peak := 0
		for i := 0; i < 4; i++ {
			reactor.Spawn(f.loop, s.Context(), func(s *reactor.Suspender) {
				if h := f.agate.Held("kv"); h > peak {
					peak = h
				}
				_, err := f.client.LRangeAsync(s, "follow:1", 0, -1)
				assert.NoError(t, err)
				if h := f.agate.Held("kv"); h > peak {
					peak = h
				}
				remaining--
				if remaining == 0 && done != nil {
					done(nil, nil)
				}
			})
		}
		_, err := s.Await(func(resolve reactor.Resolve) {
			if remaining == 0 {
				resolve(nil, nil)
				return
			}
			done = resolve
		})
		assert.LessOrEqual(t, peak, 2)
		return nil, err
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond, "4 commands through 2 permits take two rounds")
}

func TestTimeoutRaceResumesOnce(t *testing.T) {
	f := newFixture(t, endpoint.Policy{RequestTimeout: 20 * time.Millisecond})
	f.server.SetDelay("HGET", 80*time.Millisecond)

	var mu sync.Mutex
	resumes := 0
	_, err := reactor.Block(context.Background(), f.loop, func(s *reactor.Suspender) (any, error) {
		_, _, err := f.client.HGetAsync(s, "user:1", "country")
		mu.Lock()
		resumes++
		mu.Unlock()
		return nil, err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, runerr.ErrTimeout)
	assert.Equal(t, runerr.KindTimeout, runerr.Classify(err))

	// Let the late reply arrive and be discarded.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, resumes)
	mu.Unlock()

	// The pipeline stays in order: the next command gets its own reply.
	f.server.SetDelay("HGET", 0)
	_, err = reactor.Block(context.Background(), f.loop, func(s *reactor.Suspender) (any, error) {
		v, _, err := f.client.HGetAsync(s, "user:1", "name")
		assert.Equal(t, "ana", v)
		return nil, err
	})
	require.NoError(t, err)
}

func TestBlockingTimeout(t *testing.T) {
	f := newFixture(t, endpoint.Policy{RequestTimeout: 20 * time.Millisecond})
	f.server.SetDelay("HGET", 60*time.Millisecond)

	start := time.Now()
	_, _, err := f.client.HGet(context.Background(), "user:1", "country")
	assert.ErrorIs(t, err, runerr.ErrTimeout)
	assert.Less(t, time.Since(start), 55*time.Millisecond)
	assert.Zero(t, f.gate.Inflight("kv"))
}

func TestConnectivityErrors(t *testing.T) {
	t.Run("unreachable endpoint", func(t *testing.T) {
		ep := endpoint.Endpoint{ID: "down", Kind: endpoint.KindRedis, Address: "127.0.0.1:1"}
		c := New(ep, gate.New(func(string) int { return 1 }), nil, nil, nil)
		_, err := c.Do(context.Background(), "PING")
		require.Error(t, err)
		assert.ErrorIs(t, err, runerr.ErrConnectivity)
	})

	t.Run("connection dropped and re-established", func(t *testing.T) {
		f := newFixture(t, endpoint.Policy{RequestTimeout: time.Second})
		ctx := context.Background()
		_, err := f.client.Do(ctx, "PING")
		require.NoError(t, err)
		require.True(t, f.client.Connected())

		f.server.DropConnections()
		require.Eventually(t, func() bool { return !f.client.Connected() }, time.Second, 5*time.Millisecond)

		_, err = f.client.Do(ctx, "PING")
		require.NoError(t, err, "the live connection is re-checked after the permit")
	})

	t.Run("closed client", func(t *testing.T) {
		f := newFixture(t, endpoint.Policy{})
		require.NoError(t, f.client.Close())
		_, err := f.client.Do(context.Background(), "PING")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCommandStateTransitions(t *testing.T) {
	cmd := newCommand([]string{"PING"})
	assert.Equal(t, Created, cmd.State())

	var got []error
	cmd.finish = func(_ Reply, err error) { got = append(got, err) }
	cmd.set(Issued)

	assert.True(t, cmd.expire(runerr.ErrTimeout))
	assert.Equal(t, TimedOut, cmd.State())
	cmd.arrive(Reply{Kind: ReplySimple, Str: "PONG"}, nil)
	assert.False(t, cmd.expire(runerr.ErrTimeout))
	require.Len(t, got, 1, "only the first resolver finishes the command")
	assert.ErrorIs(t, got[0], runerr.ErrTimeout)
}

func TestPool(t *testing.T) {
	srv := respserver.New(t)
	reg, err := endpoint.NewRegistry(
		endpoint.Endpoint{ID: "kv", Kind: endpoint.KindRedis, Address: srv.Addr()},
		endpoint.Endpoint{ID: "scorer", Kind: endpoint.KindSocketIO, Address: "http://localhost"},
	)
	require.NoError(t, err)
	p := NewPool(reg, gate.New(func(string) int { return 4 }), nil, nil, nil)
	defer p.Close()

	a, err := p.Client("kv")
	require.NoError(t, err)
	b, err := p.Client("kv")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = p.Client("scorer")
	assert.ErrorContains(t, err, "not redis")
	_, err = p.Client("missing")
	assert.ErrorContains(t, err, "unknown endpoint")
}
