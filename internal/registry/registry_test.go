package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/runerr"
)

func identity(_ context.Context, call *Call) (*rowset.RowSet, error) { return call.Input(), nil }

type moduleFunc func(r *Registry)

func (f moduleFunc) Register(r *Registry) { f(r) }

func testSpec() *OpSpec {
	return &OpSpec{
		Name:    "widget",
		Pattern: contract.UnaryPreserveView,
		Params: []ParamSpec{
			{Name: "count", Type: ParamInt, Required: true},
			{Name: "ratio", Type: ParamFloat, Default: 0.5},
			{Name: "desc", Type: ParamBool},
			{Name: "pred", Type: ParamExpr},
			{Name: "rhs", Type: ParamNodeRef},
			{Name: "endpoint", Type: ParamEndpointRef, EndpointKind: endpoint.KindRedis},
		},
		DefaultTimeout: 10 * time.Millisecond,
		Run:            identity,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New().Load(moduleFunc(func(r *Registry) {
		r.Register(&OpSpec{Name: "b", Run: identity})
		r.Register(&OpSpec{Name: "a", Run: identity})
	}))

	spec, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", spec.Name)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	var names []string
	for _, s := range r.Ops() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New()
	r.Register(&OpSpec{Name: "a", Run: identity})
	assert.PanicsWithValue(t, "operator with name 'a' already registered", func() {
		r.Register(&OpSpec{Name: "a", Run: identity})
	})
	assert.Panics(t, func() { r.Register(&OpSpec{Name: "norun"}) })
}

func TestValidateParams(t *testing.T) {
	endpoints, err := endpoint.NewRegistry(
		endpoint.Endpoint{ID: "kv", Kind: endpoint.KindRedis, Address: "127.0.0.1:6379"},
		endpoint.Endpoint{ID: "scorer", Kind: endpoint.KindSocketIO, Address: "http://127.0.0.1:3000"},
	)
	require.NoError(t, err)
	spec := testSpec()

	t.Run("defaults and coercion", func(t *testing.T) {
		p, err := ValidateParams(spec, map[string]any{
			"count":    float64(3),
			"rhs":      "other",
			"endpoint": "kv",
			"desc":     true,
		}, endpoints)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Int("count"))
		assert.Equal(t, 0.5, p.Float("ratio"))
		assert.True(t, p.Bool("desc"))
		assert.Equal(t, graph.NodeRef("other"), p.Ref("rhs"))
		assert.Equal(t, "kv", p.String("endpoint"))
		assert.False(t, p.Has("pred"))
	})

	cases := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"missing required", map[string]any{}, "missing required param 'count'"},
		{"unknown key", map[string]any{"count": 1, "bogus": 1}, "unknown param 'bogus'"},
		{"non-integral int", map[string]any{"count": 1.5}, "expected int"},
		{"wrong type", map[string]any{"count": "x"}, "expected int, got string"},
		{"unknown endpoint", map[string]any{"count": 1, "endpoint": "nope"}, "unknown endpoint 'nope'"},
		{"wrong endpoint kind", map[string]any{"count": 1, "endpoint": "scorer"}, "is socketio, want redis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateParams(spec, tc.raw, endpoints)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, runerr.KindStructural, runerr.KindOf(err))
		})
	}
}
