// Package envtest builds execution environments backed by a fake RESP
// server for operator and executor tests.
package envtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/kvclient"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/testutil"
	"github.com/vk/rankgrid/internal/testutil/respserver"
)

// EndpointID is the id of the redis endpoint in Env.Endpoints.
const EndpointID = "kv"

// Fixture is a running loop plus an Env whose "kv" endpoint points at Server.
type Fixture struct {
	Server *respserver.Server
	Loop   *reactor.EventLoop
	Gate   *gate.Gate
	Env    *registry.Env
}

// New starts a RESP server seeded with users 1..4 (user 1 follows 2, 3 and
// 4; user 4 has no country) and a reactor loop. Everything is torn down
// when t ends.
func New(t *testing.T, policy endpoint.Policy) *Fixture {
	t.Helper()
	srv := respserver.New(t)
	srv.HSet("user:1", "country", "US")
	srv.HSet("user:2", "country", "CA")
	srv.HSet("user:3", "country", "GB")
	srv.HSet("user:4", "name", "dee")
	srv.RPush("follow:1", "2", "3", "4")
	srv.RPush("follow:2", "1")

	if policy.RequestTimeout == 0 {
		policy.RequestTimeout = time.Second
	}
	if policy.ConnectTimeout == 0 {
		policy.ConnectTimeout = time.Second
	}
	endpoints, err := endpoint.NewRegistry(endpoint.Endpoint{
		ID:      EndpointID,
		Kind:    endpoint.KindRedis,
		Address: srv.Addr(),
		Policy:  policy,
	})
	require.NoError(t, err)

	loop := reactor.New(testutil.NewTestLogger(nil))
	require.NoError(t, loop.Start())
	t.Cleanup(loop.Close)

	limit := func(id string) int { return endpoints.Policy(id).EffectiveMaxInflight() }
	g := gate.New(limit)
	pool := kvclient.NewPool(endpoints, g, gate.NewAsync(limit), loop, testutil.NewTestLogger(nil))
	t.Cleanup(pool.Close)

	return &Fixture{
		Server: srv,
		Loop:   loop,
		Gate:   g,
		Env: &registry.Env{
			Request:   registry.Request{UserID: 1},
			Params:    map[string]any{},
			Endpoints: endpoints,
			Gate:      g,
			KV:        pool,
		},
	}
}
