package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/runerr"
)

//go:embed plan.schema.json
var schemaSrc string

const schemaURL = "rankgrid://plan.schema.json"

var planSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaSrc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

type jsonPlan struct {
	Name         string         `json:"name"`
	Outputs      []string       `json:"outputs"`
	Params       map[string]any `json:"params"`
	Capabilities []string       `json:"capabilities_required"`
	Extensions   map[string]any `json:"extensions"`
	Endpoints    []jsonEndpoint `json:"endpoints"`
	Nodes        []jsonNode     `json:"nodes"`
}

type jsonEndpoint struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Address          string `json:"address"`
	Namespace        string `json:"namespace"`
	MaxInflight      int    `json:"max_inflight"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms"`
	RequestTimeoutMs int    `json:"request_timeout_ms"`
}

type jsonNode struct {
	ID        string         `json:"id"`
	Op        string         `json:"op"`
	Inputs    []string       `json:"inputs"`
	Params    map[string]any `json:"params"`
	TimeoutMs int            `json:"timeout_ms"`
}

// ParseJSON decodes one JSON plan file after validating it against the
// embedded plan schema. A param value of the form {"node": "<id>"} is a node
// reference; a bare string is accepted wherever the operator declares a node
// reference param.
func ParseJSON(filename string, src []byte) (*Plan, error) {
	schema, err := planSchema()
	if err != nil {
		return nil, err
	}

	payload, err := decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON file %s: %w", filename, err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, runerr.Structuralf("plan file %s does not match the plan schema: %v", filename, err)
	}

	var raw jsonPlan
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON file %s: %w", filename, err)
	}

	if err := checkCapabilities(raw.Capabilities, raw.Extensions); err != nil {
		return nil, fmt.Errorf("plan file %s: %w", filename, err)
	}

	p := &Plan{
		Name:         raw.Name,
		Outputs:      raw.Outputs,
		Params:       normalizeMap(raw.Params, false),
		Capabilities: raw.Capabilities,
		Extensions:   normalizeMap(raw.Extensions, false),
		Files:        []string{filename},
	}
	for _, e := range raw.Endpoints {
		p.Endpoints = append(p.Endpoints, endpoint.Endpoint{
			ID:        e.ID,
			Kind:      endpoint.Kind(e.Kind),
			Address:   e.Address,
			Namespace: e.Namespace,
			Policy:    policy(e.MaxInflight, e.ConnectTimeoutMs, e.RequestTimeoutMs),
		})
	}
	for _, n := range raw.Nodes {
		p.Nodes = append(p.Nodes, graph.Node{
			ID:        n.ID,
			Op:        n.Op,
			Inputs:    n.Inputs,
			Params:    normalizeMap(n.Params, true),
			TimeoutMs: n.TimeoutMs,
		})
	}
	return p, nil
}

func decode(src []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalizeMap(in map[string]any, refs bool) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalize(v, refs)
	}
	return out
}

// normalize turns json.Number into int64 or float64 and, with refs set,
// {"node": "<id>"} objects into graph.NodeRef.
func normalize(v any, refs bool) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		if id, ok := t["node"].(string); refs && ok && len(t) == 1 {
			return graph.NodeRef(id)
		}
		return normalizeMap(t, false)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e, false)
		}
		return out
	default:
		return v
	}
}

func policy(maxInflight, connectMs, requestMs int) endpoint.Policy {
	return endpoint.Policy{
		MaxInflight:    maxInflight,
		ConnectTimeout: time.Duration(connectMs) * time.Millisecond,
		RequestTimeout: time.Duration(requestMs) * time.Millisecond,
	}
}
