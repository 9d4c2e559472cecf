package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/rankgrid/internal/contract"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
)

// ErrInjected is the error returned by record nodes with fail = true.
var ErrInjected = errors.New("injected failure")

// RecordingModule registers the "record" and "record_async" operators. Both
// sleep for duration_ms, optionally fail afterwards, and record when each
// node started and ended. A node without inputs emits rows sequential ids;
// otherwise it emits a dense copy of its first input's active rows.
//
// "record" is synchronous; "record_async" also has a reactor-native body
// that suspends on a loop timer.
type RecordingModule struct {
	mu      sync.Mutex
	records map[string][]ExecutionRecord
	order   []string
}

// NewRecordingModule creates an empty recorder.
func NewRecordingModule() *RecordingModule {
	return &RecordingModule{records: make(map[string][]ExecutionRecord)}
}

var recordParams = []registry.ParamSpec{
	{Name: "duration_ms", Type: registry.ParamInt, Default: int64(0)},
	{Name: "fail", Type: registry.ParamBool, Default: false},
	{Name: "rows", Type: registry.ParamInt, Default: int64(3)},
	{Name: "column", Type: registry.ParamString},
	{Name: "ref", Type: registry.ParamNodeRef},
}

// Register implements the registry.Module interface.
func (m *RecordingModule) Register(r *registry.Registry) {
	r.Register(&registry.OpSpec{
		Name:    "record",
		Params:  recordParams,
		Pattern: contract.VariableDense,
		Run:     m.run,
	})
	r.Register(&registry.OpSpec{
		Name:     "record_async",
		Params:   recordParams,
		Pattern:  contract.VariableDense,
		Run:      m.run,
		RunAsync: m.runAsync,
	})
}

func (m *RecordingModule) run(ctx context.Context, call *registry.Call) (*rowset.RowSet, error) {
	start := time.Now()
	if d := time.Duration(call.Params.Int("duration_ms")) * time.Millisecond; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			m.record(call.NodeID, start)
			return nil, ctx.Err()
		}
	}
	return m.emit(call, start)
}

func (m *RecordingModule) runAsync(s *reactor.Suspender, call *registry.Call) (*rowset.RowSet, error) {
	start := time.Now()
	if err := s.Sleep(time.Duration(call.Params.Int("duration_ms")) * time.Millisecond); err != nil {
		m.record(call.NodeID, start)
		return nil, err
	}
	return m.emit(call, start)
}

func (m *RecordingModule) emit(call *registry.Call, start time.Time) (*rowset.RowSet, error) {
	m.record(call.NodeID, start)
	if call.Params.Bool("fail") {
		return nil, fmt.Errorf("node %s: %w", call.NodeID, ErrInjected)
	}
	var b *rowset.Batch
	if in := call.Input(); in != nil {
		b = in.Batch().Gather(in.Active())
	} else {
		b = rowset.SequentialBatch(int(call.Params.Int("rows")))
	}
	if key := call.Params.String("column"); key != "" {
		values := make([]float64, b.Len())
		for i := range values {
			values[i] = float64(i)
		}
		b = b.WithFloat(key, values, rowset.AllValid(b.Len()))
	}
	return rowset.New(b), nil
}

func (m *RecordingModule) record(nodeID string, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[nodeID] = append(m.records[nodeID], ExecutionRecord{Start: start, End: time.Now()})
	m.order = append(m.order, nodeID)
}

// Records returns the invocations of nodeID.
func (m *RecordingModule) Records(nodeID string) []ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutionRecord(nil), m.records[nodeID]...)
}

// Count returns how many times nodeID ran.
func (m *RecordingModule) Count(nodeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[nodeID])
}

// Finished returns node ids in the order they finished.
func (m *RecordingModule) Finished() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}
