package executor

import (
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/schemadelta"
)

// runState is the mutable bookkeeping of one run. It is never shared across
// runs. The parallel executor guards it with a mutex; the reactor executor
// only touches it from the loop.
type runState struct {
	job       *Job
	countdown []int
	results   []*rowset.RowSet
	deltas    []schemadelta.Delta
	done      []bool
	ready     []int
	inflight  int
	remaining int
	firstErr  error
}

func newRunState(job *Job) *runState {
	n := job.graph.Len()
	return &runState{
		job:       job,
		countdown: job.graph.Countdowns(),
		results:   make([]*rowset.RowSet, n),
		deltas:    make([]schemadelta.Delta, n),
		done:      make([]bool, n),
		ready:     job.graph.Roots(),
		remaining: n,
	}
}

// pop removes the next ready position in FIFO order.
func (st *runState) pop() (int, bool) {
	if len(st.ready) == 0 {
		return 0, false
	}
	p := st.ready[0]
	st.ready = st.ready[1:]
	return p, true
}

// complete publishes the result of p and makes successors whose countdown
// reaches zero ready.
func (st *runState) complete(p int, out *rowset.RowSet, delta schemadelta.Delta) {
	if st.done[p] {
		panic("executor: node completed twice")
	}
	st.done[p] = true
	st.results[p] = out
	st.deltas[p] = delta
	st.remaining--
	for _, s := range st.job.graph.Successors(p) {
		st.countdown[s]--
		if st.countdown[s] == 0 {
			st.ready = append(st.ready, s)
		}
	}
}

// fail records err if it is the first one. The node still counts as
// finished.
func (st *runState) fail(p int, err error) {
	if st.done[p] {
		panic("executor: node completed twice")
	}
	st.done[p] = true
	st.remaining--
	if st.firstErr == nil {
		st.firstErr = err
	}
}

// settled reports whether the run can report its outcome: nothing is in
// flight and either every node finished or an error was recorded.
func (st *runState) settled() bool {
	return st.inflight == 0 && (st.remaining == 0 || st.firstErr != nil)
}

// inputsOf snapshots what node p reads. Only valid once p is ready.
func (st *runState) inputsOf(p int) nodeInputs {
	g := st.job.graph
	n := g.Node(p)
	in := nodeInputs{inputs: make([]*rowset.RowSet, len(n.Inputs))}
	for i, id := range n.Inputs {
		pos, _ := g.Position(id)
		in.inputs[i] = st.results[pos]
	}
	refs := n.RefParams()
	if len(refs) > 0 {
		in.refs = make(map[string]*rowset.RowSet, len(refs))
		for _, name := range refs {
			pos, _ := g.Position(string(st.job.params[p].Ref(name)))
			in.refs[name] = st.results[pos]
			in.refOrder = append(in.refOrder, name)
		}
	}
	return in
}

// result assembles the run's report: outputs in declared order, deltas in
// topological order.
func (st *runState) result() *Result {
	g := st.job.graph
	r := &Result{
		Outputs: make([]Output, len(st.job.outputs)),
		Deltas:  make([]schemadelta.NodeDelta, 0, g.Len()),
	}
	for i, p := range st.job.outputs {
		r.Outputs[i] = Output{NodeID: g.Node(p).ID, Rows: st.results[p]}
	}
	for _, p := range g.TopoOrder() {
		r.Deltas = append(r.Deltas, schemadelta.NodeDelta{NodeID: g.Node(p).ID, Delta: st.deltas[p]})
	}
	return r
}
