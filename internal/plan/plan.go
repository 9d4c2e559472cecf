// Package plan loads ranking plans from HCL or JSON files and compiles them
// into executable jobs.
//
// A plan is a set of nodes, the endpoints those nodes may call, an optional
// output list and an optional table of default request params. A plan may be
// split across several files; they are merged in the order they are loaded.
package plan

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/rankgrid/internal/ctxlog"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/executor"
	"github.com/vk/rankgrid/internal/fsutil"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/runerr"
)

// Plan is the parsed, not yet compiled, form of a plan.
type Plan struct {
	Name      string
	Nodes     []graph.Node
	Endpoints []endpoint.Endpoint
	// Outputs lists the reported nodes. Empty means the graph's sinks.
	Outputs []string
	// Params holds default values for request params.
	Params map[string]any
	// Capabilities lists the capabilities the plan requires, sorted.
	Capabilities []string
	// Extensions holds per-capability payloads keyed by capability.
	Extensions map[string]any
	// Files lists the files the plan was read from.
	Files []string
}

// Load reads every plan file found at paths. A path may be a file or a
// directory, which is searched recursively for .hcl and .json files.
func Load(ctx context.Context, paths ...string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no plan path given")
	}

	files, err := fsutil.ExpandPaths(paths, ".hcl", ".json")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl or .json plan files found in %v", paths)
	}

	merged := &Plan{}
	for _, f := range files {
		logger.Debug("Loading plan file.", "path", f)
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read plan file %s: %w", f, err)
		}

		var part *Plan
		switch filepath.Ext(f) {
		case ".json":
			part, err = ParseJSON(f, src)
		default:
			part, err = ParseHCL(f, src)
		}
		if err != nil {
			return nil, err
		}
		if err := merged.merge(part); err != nil {
			return nil, err
		}
	}
	if merged.Name == "" {
		merged.Name = defaultName(files[0])
	}
	logger.Debug("Plan loaded.", "name", merged.Name, "nodes", len(merged.Nodes), "endpoints", len(merged.Endpoints))
	return merged, nil
}

func defaultName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func (p *Plan) merge(other *Plan) error {
	if other.Name != "" {
		if p.Name != "" && p.Name != other.Name {
			return runerr.Structuralf("conflicting plan names '%s' and '%s'", p.Name, other.Name)
		}
		p.Name = other.Name
	}
	if len(other.Outputs) > 0 {
		if len(p.Outputs) > 0 {
			return runerr.Structuralf("outputs declared more than once (again in %v)", other.Files)
		}
		p.Outputs = other.Outputs
	}
	if len(other.Capabilities) > 0 || len(other.Extensions) > 0 {
		if len(p.Capabilities) > 0 || len(p.Extensions) > 0 {
			return runerr.Structuralf("capabilities declared more than once (again in %v)", other.Files)
		}
		p.Capabilities, p.Extensions = other.Capabilities, other.Extensions
	}
	for k, v := range other.Params {
		if _, dup := p.Params[k]; dup {
			return runerr.Structuralf("plan param '%s' declared more than once", k)
		}
		if p.Params == nil {
			p.Params = make(map[string]any)
		}
		p.Params[k] = v
	}
	p.Nodes = append(p.Nodes, other.Nodes...)
	p.Endpoints = append(p.Endpoints, other.Endpoints...)
	p.Files = append(p.Files, other.Files...)
	return nil
}

// EndpointRegistry indexes the plan's endpoints.
func (p *Plan) EndpointRegistry() (*endpoint.Registry, error) {
	reg, err := endpoint.NewRegistry(p.Endpoints...)
	if err != nil {
		return nil, runerr.Structuralf("%v", err)
	}
	return reg, nil
}

// Compile validates the plan against reg and returns a job plus the
// endpoint registry it was checked against. nodeTimeout overrides operator
// default timeouts when > 0.
func (p *Plan) Compile(reg *registry.Registry, nodeTimeout time.Duration) (*executor.Job, *endpoint.Registry, error) {
	endpoints, err := p.EndpointRegistry()
	if err != nil {
		return nil, nil, err
	}
	job, err := executor.Compile(p.Nodes, p.Outputs, reg, executor.CompileOptions{
		Endpoints:   endpoints,
		NodeTimeout: nodeTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return job, endpoints, nil
}

// RequestParams overlays overrides on the plan's param defaults.
func (p *Plan) RequestParams(overrides map[string]any) map[string]any {
	out := make(map[string]any, len(p.Params)+len(overrides))
	maps.Copy(out, p.Params)
	maps.Copy(out, overrides)
	return out
}
