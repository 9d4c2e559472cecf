package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/executor"
	"github.com/vk/rankgrid/internal/gate"
	"github.com/vk/rankgrid/internal/kvclient"
	"github.com/vk/rankgrid/internal/plan"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/sioclient"
	"github.com/vk/rankgrid/internal/workpool"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	registry *registry.Registry

	plan      *plan.Plan
	job       *executor.Job
	endpoints *endpoint.Registry

	loop    *reactor.EventLoop
	cpu     *workpool.Pool
	io      *workpool.Pool
	gate    *gate.Gate
	kv      *kvclient.Pool
	sockets *sioclient.Cache

	executors map[string]executor.Executor

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Responses are written to outW and logs to logW.
//
// A plan that fails to load or compile is a fatal startup error and panics;
// the entrypoint recovers it.
func NewApp(outW, logW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.New().Load(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules), "operators", len(reg.Ops()))

	a := &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		registry: reg,
	}
	if len(cfg.PlanPaths) == 0 {
		return a
	}

	p, err := plan.Load(ctx, cfg.PlanPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load plan: %w", err))
	}
	job, endpoints, err := p.Compile(reg, cfg.NodeTimeout)
	if err != nil {
		panic(fmt.Errorf("failed to compile plan '%s': %w", p.Name, err))
	}
	logger.Debug("Plan compiled.", "plan", p.Name, "nodes", job.Graph().Len(), "outputs", job.Outputs())

	a.plan, a.job, a.endpoints = p, job, endpoints
	if err := a.start(); err != nil {
		panic(fmt.Errorf("failed to start runtime: %w", err))
	}
	return a
}

// start builds the runtime shared by every request: the reactor loop, the
// worker pools, the admission gates and the endpoint clients.
func (a *App) start() error {
	a.loop = reactor.New(a.logger)
	if err := a.loop.Start(); err != nil {
		return err
	}
	a.cpu = workpool.New("cpu", a.config.CPUWorkers)
	a.io = workpool.New("io", a.config.IOWorkers)

	limit := func(id string) int { return a.endpoints.Policy(id).EffectiveMaxInflight() }
	a.gate = gate.New(limit)
	a.kv = kvclient.NewPool(a.endpoints, a.gate, gate.NewAsync(limit), a.loop, a.logger)
	a.sockets = sioclient.NewCache(a.endpoints)

	a.executors = map[string]executor.Executor{
		ExecutorSequential: executor.NewSequential(),
		ExecutorParallel:   executor.NewParallel(a.cpu, a.io),
		ExecutorReactor:    executor.NewReactor(a.loop, a.cpu),
	}
	a.logger.Debug("Runtime started.", "cpu_workers", a.config.CPUWorkers, "io_workers", a.config.IOWorkers, "endpoints", a.endpoints.IDs())
	return nil
}

// Close releases the runtime. It is safe to call on an App that never
// loaded a plan.
func (a *App) Close() {
	if err := a.closeHealthCheckServer(); err != nil {
		a.logger.Warn("Health check server did not shut down cleanly.", "error", err)
	}
	if a.kv != nil {
		a.kv.Close()
	}
	if a.sockets != nil {
		a.sockets.Close()
	}
	if a.cpu != nil {
		a.cpu.Close()
	}
	if a.io != nil {
		a.io.Close()
	}
	if a.loop != nil {
		a.loop.Close()
	}
	a.logger.Debug("App closed.")
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Plan returns the loaded plan, or nil.
func (a *App) Plan() *plan.Plan {
	return a.plan
}
