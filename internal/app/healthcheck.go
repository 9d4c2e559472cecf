package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/workpool"
)

type healthReport struct {
	Status  string `json:"status"`
	Plan    string `json:"plan"`
	Reactor string `json:"reactor"`
	// Resources counts timers and connections still registered with the loop.
	Resources int                       `json:"resources"`
	Inflight  map[string]int64          `json:"inflight"`
	Pools     map[string]workpool.Stats `json:"pools"`
}

// healthHandler reports the reactor state and pool counters. The service is
// unhealthy once the reactor has left the Running state.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)

	report := healthReport{
		Status:    "ok",
		Plan:      app.plan.Name,
		Reactor:   app.loop.State().String(),
		Resources: app.loop.Outstanding(),
		Inflight:  make(map[string]int64),
		Pools: map[string]workpool.Stats{
			app.cpu.Name(): app.cpu.Stats(),
			app.io.Name():  app.io.Stats(),
		},
	}
	for _, id := range app.endpoints.IDs() {
		report.Inflight[id] = app.gate.Inflight(id)
	}
	code := http.StatusOK
	if app.loop.State() != reactor.Running {
		report.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.Warn("Failed to write health report.", "error", err)
	}
}

// healthCheckServer initializes and runs the health check HTTP server.
func (app *App) healthCheckServer() {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Configuring health check server.")
	if app.config.HealthcheckPort <= 0 {
		logger.Debug("Health check server not started: disabled")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", app.healthHandler)

	addr := fmt.Sprintf(":%d", app.config.HealthcheckPort)
	app.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
}

func (app *App) closeHealthCheckServer() error {
	logger := ctxlog.FromContext(app.ctx)
	if app.httpServer == nil {
		logger.Debug("Health check server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	app.httpServer = nil
	logger.Debug("Health check server shut down gracefully.")
	return nil
}
