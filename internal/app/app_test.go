package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/vk/rankgrid/internal/testutil"
	"github.com/vk/rankgrid/internal/testutil/respserver"
)

const feedPlan = `
plan "feed" {
  outputs = [node.merged]
  params  = { min_score = 0.5 }
}

endpoint "kv" {
  kind               = "redis"
  address            = "%s"
  connect_timeout_ms = 500
  request_timeout_ms = 500
}

node "me" {
  op     = "viewer"
  params = { endpoint = endpoint.kv }
}

node "friends" {
  op     = "follow"
  inputs = [node.me]
  params = { endpoint = endpoint.kv, fanout = 10 }
}

node "cands" {
  op     = "candidates"
  params = { fanout = 50 }
}

node "good" {
  op     = "filter"
  inputs = [node.cands]
  params = { pred = "score >= min_score" }
}

node "ranked" {
  op     = "sort"
  inputs = [node.good]
  params = { by = "score", desc = true }
}

node "top" {
  op     = "take"
  inputs = [node.ranked]
  params = { count = 5 }
}

node "merged" {
  op     = "concat"
  inputs = [node.top]
  params = { rhs = node.friends }
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// setupApp starts a RESP server seeded with a small social graph, writes
// the feed plan against it and builds an App around it.
func setupApp(t *testing.T, mutate func(*Config)) (*App, *bytes.Buffer, *testutil.SafeBuffer) {
	t.Helper()
	srv := respserver.New(t)
	srv.HSet("user:1", "country", "US")
	srv.HSet("user:2", "country", "CA")
	srv.HSet("user:3", "country", "GB")
	srv.RPush("follow:1", "2", "3", "4")

	planPath := writeFile(t, "feed.hcl", fmt.Sprintf(feedPlan, srv.Addr()))
	reqPath := writeFile(t, "request.json", `{"request_id": "req-1", "user_id": 1}`)

	cfg := Config{
		PlanPaths:   []string{planPath},
		RequestPath: reqPath,
		Executor:    ExecutorReactor,
		CPUWorkers:  2,
		IOWorkers:   4,
		LogFormat:   "text",
		LogLevel:    "debug",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	config, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logs := &testutil.SafeBuffer{}
	a := NewApp(out, logs, config)
	t.Cleanup(a.Close)
	t.Cleanup(func() {
		if os.Getenv("RANKGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return a, out, logs
}

func decodeResponses(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var resps []Response
	dec := json.NewDecoder(out)
	for dec.More() {
		var r Response
		require.NoError(t, dec.Decode(&r))
		resps = append(resps, r)
	}
	return resps
}

func TestNewConfig(t *testing.T) {
	base := Config{PlanPaths: []string{"plan.hcl"}, CPUWorkers: 1, IOWorkers: 1}

	cfg, err := NewConfig(base)
	require.NoError(t, err)
	assert.Equal(t, ExecutorReactor, cfg.Executor)
	assert.Equal(t, 1, cfg.Repeat)

	cases := map[string]func(*Config){
		"no plan":          func(c *Config) { c.PlanPaths = nil },
		"unknown executor": func(c *Config) { c.Executor = "threads" },
		"no workers":       func(c *Config) { c.CPUWorkers = 0 },
		"negative repeat":  func(c *Config) { c.Repeat = -1 },
		"negative timeout": func(c *Config) { c.NodeTimeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			_, err := NewConfig(c)
			assert.Error(t, err)
		})
	}

	t.Run("registry listing needs no plan", func(t *testing.T) {
		c := base
		c.PlanPaths = nil
		c.PrintRegistry = true
		_, err := NewConfig(c)
		assert.NoError(t, err)
	})
}

func TestRunWritesResponse(t *testing.T) {
	a, out, logs := setupApp(t, nil)

	require.NoError(t, a.Run(testutil.Ctx(t)))

	resps := decodeResponses(t, out)
	require.Len(t, resps, 1)
	resp := resps[0]
	assert.Equal(t, "req-1", resp.RequestID)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "feed", resp.Plan)
	assert.Equal(t, []OutputSummary{{NodeID: "merged", Rows: 8}}, resp.Outputs)

	require.Len(t, resp.Candidates, 8)
	for _, c := range resp.Candidates[:5] {
		assert.GreaterOrEqual(t, c.Fields["score"], 0.5)
	}
	var friends []int64
	for _, c := range resp.Candidates[5:] {
		friends = append(friends, c.ID)
	}
	assert.Equal(t, []int64{2, 3, 4}, friends)
	assert.Equal(t, "CA", resp.Candidates[5].Fields["country"])
	assert.NotContains(t, resp.Candidates[7].Fields, "country", "user 4 has no country")

	assert.Len(t, resp.SchemaDeltas, 7)
	assert.Contains(t, logs.String(), "🚀 Starting plan execution")
	assert.Contains(t, logs.String(), "🏁 Execution finished")
}

func TestRunAllExecutorsRepeatedly(t *testing.T) {
	a, out, _ := setupApp(t, func(c *Config) {
		c.Executor = ExecutorAll
		c.Repeat = 3
	})

	require.NoError(t, a.Run(testutil.Ctx(t)))

	resps := decodeResponses(t, out)
	require.Len(t, resps, 3)
	order := func(r Response) []string {
		ids := make([]string, len(r.SchemaDeltas))
		for i, d := range r.SchemaDeltas {
			ids[i] = d.NodeID
		}
		return ids
	}
	runIDs := map[string]bool{}
	for _, r := range resps {
		assert.Equal(t, order(resps[0]), order(r))
		assert.Equal(t, resps[0].Candidates, r.Candidates)
		runIDs[r.RunID] = true
	}
	assert.Len(t, runIDs, 3, "each run gets its own id")
}

func TestServeAppliesParamOverrides(t *testing.T) {
	a, _, _ := setupApp(t, nil)

	resp, err := a.Serve(testutil.Ctx(t), registry.Request{
		UserID:         1,
		ParamOverrides: map[string]any{"min_score": 2.0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestID, "a request id is generated when missing")
	assert.Equal(t, []OutputSummary{{NodeID: "merged", Rows: 3}}, resp.Outputs)
}

func TestRunDeadline(t *testing.T) {
	planPath := writeFile(t, "slow.hcl", `
node "src" {
  op     = "fixed_source"
  params = { row_count = 3 }
}
node "slow" {
  op     = "sleep"
  inputs = [node.src]
  params = { duration_ms = 200 }
}
`)
	for _, executor := range []string{ExecutorSequential, ExecutorParallel, ExecutorReactor} {
		t.Run(executor, func(t *testing.T) {
			cfg, err := NewConfig(Config{
				PlanPaths:  []string{planPath},
				Executor:   executor,
				CPUWorkers: 1,
				IOWorkers:  1,
				Deadline:   30 * time.Millisecond,
			})
			require.NoError(t, err)
			out := &bytes.Buffer{}
			a := NewApp(out, &testutil.SafeBuffer{}, cfg)
			t.Cleanup(a.Close)

			err = a.Run(testutil.Ctx(t))
			require.Error(t, err)
			assert.Equal(t, runerr.KindTimeout, runerr.KindOf(err))
			assert.Empty(t, out.String(), "no partial output on failure")
		})
	}
}

func TestNewAppPanicsOnInvalidPlan(t *testing.T) {
	planPath := writeFile(t, "bad.hcl", `
node "a" {
  op = "does_not_exist"
}
`)
	cfg, err := NewConfig(Config{PlanPaths: []string{planPath}, CPUWorkers: 1, IOWorkers: 1})
	require.NoError(t, err)

	assert.PanicsWithError(t, "failed to compile plan 'bad': node 'a': unknown op 'does_not_exist'", func() {
		NewApp(&bytes.Buffer{}, &testutil.SafeBuffer{}, cfg)
	})
}

func TestPrintRegistry(t *testing.T) {
	cfg, err := NewConfig(Config{PrintRegistry: true, CPUWorkers: 1, IOWorkers: 1})
	require.NoError(t, err)
	out := &bytes.Buffer{}
	a := NewApp(out, &testutil.SafeBuffer{}, cfg)
	t.Cleanup(a.Close)

	require.NoError(t, a.Run(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(coreModules)+3)
	assert.True(t, strings.HasPrefix(lines[0], "OP"))
	assert.Contains(t, out.String(), "concat")
	assert.Contains(t, out.String(), "rhs:node_ref!")
	assert.Contains(t, out.String(), "ConcatDense")
	assert.Contains(t, out.String(), "viewer.fetch_cached_recommendation")
	assert.Empty(t, lines[len(lines)-2])

	digest, err := a.registry.ManifestDigest()
	require.NoError(t, err)
	assert.Equal(t, "manifest_digest "+digest, lines[len(lines)-1])
}

func TestHealthHandler(t *testing.T) {
	a, _, _ := setupApp(t, nil)

	rec := httptest.NewRecorder()
	a.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report healthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "feed", report.Plan)
	assert.Equal(t, reactor.Running.String(), report.Reactor)
	assert.Contains(t, report.Pools, "cpu")
	assert.Equal(t, map[string]int64{"kv": 0}, report.Inflight)
	assert.Zero(t, report.Resources)

	a.loop.Close()
	rec = httptest.NewRecorder()
	a.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
