package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/vk/rankgrid/internal/testutil"
	"github.com/vk/rankgrid/internal/workpool"
	"github.com/vk/rankgrid/modules/busy_cpu"
	"github.com/vk/rankgrid/modules/candidates"
	"github.com/vk/rankgrid/modules/concat"
	"github.com/vk/rankgrid/modules/filter"
	"github.com/vk/rankgrid/modules/fixed_source"
	"github.com/vk/rankgrid/modules/sleep"
	sortop "github.com/vk/rankgrid/modules/sort"
	"github.com/vk/rankgrid/modules/take"
	"github.com/vk/rankgrid/modules/vm"
)

type harness struct {
	reg   *registry.Registry
	rec   *testutil.RecordingModule
	execs []Executor
}

func misbehaving() *testutil.SimpleModule {
	return &testutil.SimpleModule{Ops: []*registry.OpSpec{
		{
			Name:    "shrink",
			Pattern: contract.UnaryPreserveView,
			Run: func(_ context.Context, call *registry.Call) (*rowset.RowSet, error) {
				return rowset.New(rowset.SequentialBatch(call.Input().Len() + 1)), nil
			},
		},
		{
			Name:    "explode",
			Pattern: contract.VariableDense,
			Run: func(context.Context, *registry.Call) (*rowset.RowSet, error) {
				panic("boom")
			},
		},
	}}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := testutil.NewRecordingModule()
	reg := registry.New().Load(
		rec,
		misbehaving(),
		&fixed_source.Module{},
		&candidates.Module{},
		&sleep.Module{},
		&concat.Module{},
		&filter.Module{},
		&vm.Module{},
		&sortop.Module{},
		&take.Module{},
		&busy_cpu.Module{},
	)

	loop := reactor.New(testutil.NewTestLogger(nil))
	require.NoError(t, loop.Start())
	t.Cleanup(loop.Close)
	cpu := workpool.New("cpu", 4)
	io := workpool.New("io", 8)
	t.Cleanup(cpu.Close)
	t.Cleanup(io.Close)

	return &harness{
		reg: reg,
		rec: rec,
		execs: []Executor{
			NewSequential(),
			NewParallel(cpu, io),
			NewReactor(loop, cpu),
		},
	}
}

func (h *harness) compile(t *testing.T, nodes []graph.Node, outputs ...string) *Job {
	t.Helper()
	job, err := Compile(nodes, outputs, h.reg, CompileOptions{})
	require.NoError(t, err)
	return job
}

func env() *registry.Env {
	return &registry.Env{Params: map[string]any{"min_score": 0.3}}
}

func ref(id string) graph.NodeRef { return graph.NodeRef(id) }

// fanGraph is source -> [a, b] -> concat.
func fanGraph(aOp string, aParams map[string]any, bOp string, bParams map[string]any) []graph.Node {
	return []graph.Node{
		{ID: "source", Op: "fixed_source", Params: map[string]any{"row_count": 4}},
		{ID: "a", Op: aOp, Inputs: []string{"source"}, Params: aParams},
		{ID: "b", Op: bOp, Inputs: []string{"source"}, Params: bParams},
		{ID: "out", Op: "concat", Inputs: []string{"a"}, Params: map[string]any{"rhs": ref("b")}},
	}
}

func TestCompileErrors(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name    string
		nodes   []graph.Node
		outputs []string
		want    string
	}{
		{"unknown op", []graph.Node{{ID: "x", Op: "nope"}}, nil, "unknown op 'nope'"},
		{"bad params", []graph.Node{{ID: "x", Op: "fixed_source"}}, nil, "missing required param 'row_count'"},
		{"unknown ref", []graph.Node{
			{ID: "x", Op: "fixed_source", Params: map[string]any{"row_count": 1}},
			{ID: "y", Op: "concat", Inputs: []string{"x"}, Params: map[string]any{"rhs": "ghost"}},
		}, nil, "depends on unknown node 'ghost'"},
		{"cycle", []graph.Node{
			{ID: "x", Op: "take", Inputs: []string{"y"}, Params: map[string]any{"count": 1}},
			{ID: "y", Op: "take", Inputs: []string{"x"}, Params: map[string]any{"count": 1}},
		}, nil, "cycle detected"},
		{"unknown output", []graph.Node{{ID: "x", Op: "fixed_source", Params: map[string]any{"row_count": 1}}}, []string{"z"}, "unknown node 'z'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.nodes, tc.outputs, h.reg, CompileOptions{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, runerr.KindStructural, runerr.KindOf(err))
		})
	}
}

func TestCompileTimeouts(t *testing.T) {
	h := newHarness(t)
	nodes := []graph.Node{
		{ID: "src", Op: "fixed_source", Params: map[string]any{"row_count": 1}},
		{ID: "own", Op: "concat", Inputs: []string{"src"}, Params: map[string]any{"rhs": "src"}, TimeoutMs: 7},
		{ID: "dflt", Op: "concat", Inputs: []string{"src"}, Params: map[string]any{"rhs": "src"}},
	}
	job, err := Compile(nodes, nil, h.reg, CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Millisecond, job.Timeout(1))
	assert.Equal(t, 50*time.Millisecond, job.Timeout(2))
	assert.Zero(t, job.Timeout(0))
	assert.Equal(t, []string{"own", "dflt"}, job.Outputs())

	job, err = Compile(nodes, []string{"src"}, h.reg, CompileOptions{NodeTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Millisecond, job.Timeout(1))
	assert.Equal(t, time.Second, job.Timeout(2))
	assert.Equal(t, []string{"src"}, job.Outputs())
}

func TestIndependentBranchesOverlap(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, fanGraph(
		"sleep", map[string]any{"duration_ms": 50},
		"sleep", map[string]any{"duration_ms": 50},
	))

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			start := time.Now()
			res, err := e.Execute(testutil.Ctx(t), job, env())
			elapsed := time.Since(start)
			require.NoError(t, err)
			require.Len(t, res.Outputs, 1)
			assert.Equal(t, 8, res.Outputs[0].Rows.Len())

			if e.Name() == "sequential" {
				assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
			} else {
				assert.Less(t, elapsed, 80*time.Millisecond)
			}
		})
	}
}

func TestFailFastDrainsSiblings(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, fanGraph(
		"record_async", map[string]any{"duration_ms": 100},
		"record_async", map[string]any{"duration_ms": 20, "fail": true},
	))

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			before := h.rec.Count("a")
			start := time.Now()
			res, err := e.Execute(testutil.Ctx(t), job, env())
			elapsed := time.Since(start)

			require.Error(t, err)
			assert.Nil(t, res)
			var ne *runerr.NodeError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "b", ne.NodeID)
			assert.Equal(t, runerr.KindExecution, ne.Kind)
			assert.ErrorIs(t, err, testutil.ErrInjected)

			// The slow sibling finished before the error was reported.
			assert.Equal(t, before+1, h.rec.Count("a"))
			assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
			assert.Less(t, elapsed, 200*time.Millisecond)
		})
	}
}

func TestPastDeadlineFailsBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, fanGraph(
		"record", map[string]any{"duration_ms": 10},
		"record", map[string]any{"duration_ms": 10},
	))

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			ctx, cancel := context.WithDeadline(testutil.Ctx(t), time.Now().Add(-100*time.Millisecond))
			defer cancel()

			start := time.Now()
			res, err := e.Execute(ctx, job, env())
			assert.Less(t, time.Since(start), 20*time.Millisecond)
			assert.Nil(t, res)
			require.ErrorIs(t, err, runerr.ErrDeadline)
			assert.Equal(t, runerr.KindTimeout, runerr.KindOf(err))
			assert.Zero(t, h.rec.Count("a")+h.rec.Count("b"))
		})
	}
}

func TestNodeTimeout(t *testing.T) {
	h := newHarness(t)
	nodes := fanGraph(
		"record_async", map[string]any{"duration_ms": 500},
		"record_async", map[string]any{"duration_ms": 1},
	)
	nodes[1].TimeoutMs = 30
	job := h.compile(t, nodes)

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			start := time.Now()
			_, err := e.Execute(testutil.Ctx(t), job, env())
			assert.Less(t, time.Since(start), 300*time.Millisecond)
			var ne *runerr.NodeError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "a", ne.NodeID)
			assert.Equal(t, runerr.KindTimeout, ne.Kind)
			assert.ErrorIs(t, err, runerr.ErrTimeout)
		})
	}
}

func TestOffloadedCPUWorkTimesOut(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, []graph.Node{
		{ID: "source", Op: "fixed_source", Params: map[string]any{"row_count": 4}},
		{ID: "spin", Op: "busy_cpu", Inputs: []string{"source"}, Params: map[string]any{"busy_wait_ms": 300}, TimeoutMs: 20},
	})

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			start := time.Now()
			_, err := e.Execute(testutil.Ctx(t), job, env())
			elapsed := time.Since(start)

			var ne *runerr.NodeError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "spin", ne.NodeID)
			assert.Equal(t, runerr.KindTimeout, ne.Kind)
			if e.Name() == "reactor" {
				assert.Less(t, elapsed, 200*time.Millisecond, "the task resumes at the deadline, not when the spin ends")
			}
		})
	}
}

func TestExactlyOnceAfterDependencies(t *testing.T) {
	h := newHarness(t)
	// r -> [x, y]; z reads x and references y; w references z only.
	nodes := []graph.Node{
		{ID: "r", Op: "record", Params: map[string]any{"rows": 2, "duration_ms": 5}},
		{ID: "x", Op: "record_async", Inputs: []string{"r"}, Params: map[string]any{"duration_ms": 15}},
		{ID: "y", Op: "record", Inputs: []string{"r"}, Params: map[string]any{"duration_ms": 30}},
		{ID: "z", Op: "record_async", Inputs: []string{"x"}, Params: map[string]any{"ref": ref("y")}},
		{ID: "w", Op: "record", Params: map[string]any{"ref": ref("z"), "rows": 1}},
	}
	job := h.compile(t, nodes, "w", "z")
	deps := map[string][]string{"x": {"r"}, "y": {"r"}, "z": {"x", "y"}, "w": {"z"}}

	for i, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			res, err := e.Execute(testutil.Ctx(t), job, env())
			require.NoError(t, err)
			assert.Equal(t, []string{"w", "z"}, []string{res.Outputs[0].NodeID, res.Outputs[1].NodeID})

			for _, n := range nodes {
				recs := h.rec.Records(n.ID)
				require.Len(t, recs, i+1, "node %s", n.ID)
				cur := recs[i]
				for _, d := range deps[n.ID] {
					dep := h.rec.Records(d)[i]
					assert.False(t, cur.Start.Before(dep.End), "%s started before %s ended", n.ID, d)
				}
			}
		})
	}
}

func rankingGraph() []graph.Node {
	return []graph.Node{
		{ID: "cands", Op: "candidates", Params: map[string]any{"fanout": 200}},
		{ID: "extra", Op: "fixed_source", Params: map[string]any{"row_count": 5}},
		{ID: "keep", Op: "filter", Inputs: []string{"cands"}, Params: map[string]any{"pred": "score > min_score"}},
		{ID: "boost", Op: "vm", Inputs: []string{"keep"}, Params: map[string]any{"expr": "score * 2 + id / 1000", "out_key": "final"}},
		{ID: "slow", Op: "record_async", Inputs: []string{"extra"}, Params: map[string]any{"duration_ms": 10, "column": "final"}},
		{ID: "rank", Op: "sort", Inputs: []string{"boost"}, Params: map[string]any{"by": "final", "desc": true}},
		{ID: "top", Op: "take", Inputs: []string{"rank"}, Params: map[string]any{"count": 20}},
		{ID: "merged", Op: "concat", Inputs: []string{"top"}, Params: map[string]any{"rhs": ref("slow")}},
	}
}

func TestExecutorsAgree(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, rankingGraph(), "merged", "top")

	var (
		wantRows  [][]rowset.Row
		wantOrder []string
	)
	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			res, err := e.Execute(testutil.Ctx(t), job, env())
			require.NoError(t, err)
			var rows [][]rowset.Row
			for _, o := range res.Outputs {
				rows = append(rows, o.Rows.Rows())
			}
			if wantRows == nil {
				wantRows, wantOrder = rows, res.DeltaOrder()
				require.Len(t, rows, 2)
				assert.Len(t, rows[0], 25)
				assert.Len(t, rows[1], 20)
				return
			}
			assert.Equal(t, wantRows, rows)
			assert.Equal(t, wantOrder, res.DeltaOrder())
		})
	}
}

func TestDeltaTraceIsStable(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, rankingGraph())
	reactorExec := h.execs[2]

	var topo []string
	for _, p := range job.Graph().TopoOrder() {
		topo = append(topo, job.Graph().Node(p).ID)
	}

	var first *Result
	for range 5 {
		res, err := reactorExec.Execute(testutil.Ctx(t), job, env())
		require.NoError(t, err)
		assert.Equal(t, topo, res.DeltaOrder())
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first.Deltas, res.Deltas)
	}

	byID := make(map[string][]string)
	for _, d := range first.Deltas {
		byID[d.NodeID] = d.Delta.NewKeys
	}
	assert.Equal(t, []string{"final"}, byID["boost"])
	assert.Equal(t, []string{}, byID["keep"])
	assert.Equal(t, []string{"country", "score"}, byID["cands"])
}

func TestContractViolation(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, []graph.Node{
		{ID: "src", Op: "fixed_source", Params: map[string]any{"row_count": 3}},
		{ID: "bad", Op: "shrink", Inputs: []string{"src"}},
	})

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := e.Execute(testutil.Ctx(t), job, env())
			require.Error(t, err)
			assert.Equal(t, runerr.KindContract, runerr.KindOf(err))
			var ce *runerr.ContractError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "Node 'bad': op 'shrink' violated output contract: expected row count 3 (same as input), got 4", ce.Error())
		})
	}
}

func TestOperatorPanicBecomesError(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, []graph.Node{{ID: "p", Op: "explode"}})

	for _, e := range h.execs {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := e.Execute(testutil.Ctx(t), job, env())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "operator panicked: boom")
			assert.Equal(t, runerr.KindExecution, runerr.KindOf(err))
		})
	}
}

// Parallel waits for in-flight nodes before raising; Reactor lets the
// remaining tasks finish before resuming the root. Both report the same
// first error and no output.
func TestParallelAndReactorFailIdentically(t *testing.T) {
	h := newHarness(t)
	nodes := []graph.Node{
		{ID: "src", Op: "record", Params: map[string]any{"rows": 2}},
		{ID: "early", Op: "record_async", Inputs: []string{"src"}, Params: map[string]any{"duration_ms": 10, "fail": true}},
		{ID: "late", Op: "record_async", Inputs: []string{"src"}, Params: map[string]any{"duration_ms": 60, "fail": true}},
		{ID: "ok", Op: "record_async", Inputs: []string{"src"}, Params: map[string]any{"duration_ms": 40}},
		{ID: "after", Op: "record", Inputs: []string{"ok"}},
	}
	job := h.compile(t, nodes)

	var msgs []string
	for _, e := range h.execs[1:] {
		res, err := e.Execute(testutil.Ctx(t), job, env())
		require.Error(t, err, e.Name())
		assert.Nil(t, res)
		msgs = append(msgs, err.Error())
		var ne *runerr.NodeError
		require.True(t, errors.As(err, &ne))
		assert.Equal(t, "early", ne.NodeID)
	}
	assert.Equal(t, msgs[0], msgs[1])
	assert.Equal(t, 2, h.rec.Count("late"), "failing stragglers still ran to completion")
	assert.Equal(t, 2, h.rec.Count("ok"))
	assert.Zero(t, h.rec.Count("after"), "nothing is dispatched after the first error")
}

func TestConcurrentRunsOfOneJob(t *testing.T) {
	h := newHarness(t)
	job := h.compile(t, rankingGraph(), "merged")

	errs := make(chan error, 6)
	for _, e := range h.execs {
		for range 2 {
			go func() {
				_, err := e.Execute(testutil.Ctx(t), job, env())
				errs <- err
			}()
		}
	}
	for range 6 {
		assert.NoError(t, <-errs)
	}
}
