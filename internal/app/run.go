package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/executor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/runerr"
	"github.com/vk/rankgrid/internal/schemadelta"
	"golang.org/x/sync/errgroup"
)

// ErrParity is returned in ExecutorAll mode when the strategies disagree.
var ErrParity = errors.New("executor parity violated")

// OutputSummary reports the size of one output node.
type OutputSummary struct {
	NodeID string `json:"node_id"`
	Rows   int    `json:"rows"`
}

// Response is the JSON document written for each run.
type Response struct {
	RunID        string                  `json:"run_id"`
	RequestID    string                  `json:"request_id"`
	Plan         string                  `json:"plan"`
	Executor     string                  `json:"executor"`
	ElapsedMs    float64                 `json:"elapsed_ms"`
	Candidates   []rowset.Row            `json:"candidates"`
	Outputs      []OutputSummary         `json:"outputs"`
	SchemaDeltas []schemadelta.NodeDelta `json:"schema_deltas"`
}

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.PrintRegistry {
		if err := a.printRegistry(); err != nil {
			return err
		}
		if a.plan == nil {
			return nil
		}
	}
	if a.plan == nil {
		return errors.New("no plan loaded")
	}

	a.healthCheckServer()

	req, err := readRequest(a.config.RequestPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.outW)
	for i := range a.config.Repeat {
		resp, err := a.Serve(ctx, req)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response %d: %w", i, err)
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// Serve runs the plan once for req under the configured executor.
func (a *App) Serve(ctx context.Context, req registry.Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	runID := uuid.NewString()
	ctx, logger := ctxlog.With(ctx, "run_id", runID, "request_id", req.RequestID)

	if a.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Deadline)
		defer cancel()
	}

	env := &registry.Env{
		Request:   req,
		Params:    a.plan.RequestParams(req.ParamOverrides),
		Endpoints: a.endpoints,
		Gate:      a.gate,
		KV:        a.kv,
		Sockets:   a.sockets,
	}

	logger.Info("🚀 Starting plan execution", "plan", a.plan.Name, "executor", a.config.Executor, "nodes", a.job.Graph().Len(), "user_id", req.UserID)
	start := time.Now()

	var res *executor.Result
	var err error
	if a.config.Executor == ExecutorAll {
		res, err = a.executeAll(ctx, env)
	} else {
		res, err = a.executors[a.config.Executor].Execute(ctx, a.job, env)
	}
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("Execution failed.", "error", err, "kind", runerr.KindOf(err), "elapsed", elapsed)
		return nil, err
	}
	logger.Info("🏁 Execution finished", "elapsed", elapsed, "outputs", len(res.Outputs))

	resp := &Response{
		RunID:        runID,
		RequestID:    req.RequestID,
		Plan:         a.plan.Name,
		Executor:     a.config.Executor,
		ElapsedMs:    float64(elapsed.Microseconds()) / 1000,
		Candidates:   []rowset.Row{},
		SchemaDeltas: res.Deltas,
	}
	for i, out := range res.Outputs {
		if i == 0 {
			resp.Candidates = out.Rows.Rows()
		}
		resp.Outputs = append(resp.Outputs, OutputSummary{NodeID: out.NodeID, Rows: out.Rows.Len()})
	}
	return resp, nil
}

// executeAll runs every strategy concurrently on the same job and returns
// the reactor's result once all of them agree on output ids and delta order.
func (a *App) executeAll(ctx context.Context, env *registry.Env) (*executor.Result, error) {
	names := []string{ExecutorSequential, ExecutorParallel, ExecutorReactor}
	results := make([]*executor.Result, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			ectx, _ := ctxlog.With(ctx, "executor", name)
			res, err := a.executors[name].Execute(ectx, a.job, env)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := results[0]
	for i, res := range results[1:] {
		if err := compareResults(ref, res); err != nil {
			return nil, fmt.Errorf("%w: %s vs %s: %v", ErrParity, names[0], names[i+1], err)
		}
	}
	ctxlog.FromContext(ctx).Debug("All executors agree.", "deltas", len(ref.Deltas))
	return results[len(results)-1], nil
}

func compareResults(want, got *executor.Result) error {
	if !slices.Equal(want.DeltaOrder(), got.DeltaOrder()) {
		return fmt.Errorf("schema delta order %v != %v", want.DeltaOrder(), got.DeltaOrder())
	}
	if len(want.Outputs) != len(got.Outputs) {
		return fmt.Errorf("%d outputs != %d outputs", len(want.Outputs), len(got.Outputs))
	}
	for i := range want.Outputs {
		w, g := want.Outputs[i], got.Outputs[i]
		if w.NodeID != g.NodeID {
			return fmt.Errorf("output %d is '%s' != '%s'", i, w.NodeID, g.NodeID)
		}
		if !slices.Equal(w.Rows.IDs(), g.Rows.IDs()) {
			return fmt.Errorf("output '%s' row ids differ", w.NodeID)
		}
	}
	return nil
}

// readRequest loads the request file. No path means an anonymous request
// with user id 0 and no overrides.
func readRequest(path string) (registry.Request, error) {
	var req registry.Request
	if path == "" {
		return req, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to decode request file %s: %w", path, err)
	}
	return req, nil
}
