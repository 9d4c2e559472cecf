package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/vk/rankgrid/internal/runerr"
)

// ParamType is the declared type of an operator parameter.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamFloat
	ParamBool
	ParamString
	// ParamExpr is an expression string compiled by the operator.
	ParamExpr
	// ParamNodeRef names another node and adds a dependency edge.
	ParamNodeRef
	// ParamEndpointRef names an endpoint of ParamSpec.EndpointKind.
	ParamEndpointRef
)

func (t ParamType) String() string {
	switch t {
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamBool:
		return "bool"
	case ParamString:
		return "string"
	case ParamExpr:
		return "expr"
	case ParamNodeRef:
		return "node_ref"
	case ParamEndpointRef:
		return "endpoint_ref"
	default:
		return fmt.Sprintf("ParamType(%d)", int(t))
	}
}

// ParamSpec is the schema of one parameter.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	// Default is applied when the parameter is absent. It must already have
	// the normalized Go type of Type.
	Default      any
	EndpointKind endpoint.Kind
}

// Params is a validated parameter map. Values have normalized types:
// int64, float64, bool, string, graph.NodeRef.
type Params map[string]any

// Has reports whether name is set.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Int returns an int parameter.
func (p Params) Int(name string) int64 {
	v, _ := p[name].(int64)
	return v
}

// Float returns a float parameter.
func (p Params) Float(name string) float64 {
	v, _ := p[name].(float64)
	return v
}

// Bool returns a bool parameter.
func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// String returns a string, expr or endpoint parameter.
func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// Ref returns a node reference parameter.
func (p Params) Ref(name string) graph.NodeRef {
	v, _ := p[name].(graph.NodeRef)
	return v
}

// ValidateParams checks raw against spec. Defaults are applied, values are
// coerced to their normalized types and unknown keys are rejected. When
// endpoints is non-nil, endpoint references must exist and have the declared
// kind. Errors are structural.
func ValidateParams(spec *OpSpec, raw map[string]any, endpoints *endpoint.Registry) (Params, error) {
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, ok := spec.Param(k); !ok {
			return nil, runerr.Structuralf("op '%s': unknown param '%s'", spec.Name, k)
		}
	}

	out := make(Params, len(spec.Params))
	for _, ps := range spec.Params {
		v, ok := raw[ps.Name]
		if !ok || v == nil {
			if ps.Default != nil {
				out[ps.Name] = ps.Default
				continue
			}
			if ps.Required {
				return nil, runerr.Structuralf("op '%s': missing required param '%s'", spec.Name, ps.Name)
			}
			continue
		}
		nv, err := coerce(ps.Type, v)
		if err != nil {
			return nil, runerr.Structuralf("op '%s': param '%s': %v", spec.Name, ps.Name, err)
		}
		if ps.Type == ParamEndpointRef && endpoints != nil {
			ep, found := endpoints.Get(nv.(string))
			if !found {
				return nil, runerr.Structuralf("op '%s': param '%s': unknown endpoint '%s'", spec.Name, ps.Name, nv)
			}
			if ps.EndpointKind != "" && ep.Kind != ps.EndpointKind {
				return nil, runerr.Structuralf("op '%s': param '%s': endpoint '%s' is %s, want %s", spec.Name, ps.Name, ep.ID, ep.Kind, ps.EndpointKind)
			}
		}
		out[ps.Name] = nv
	}
	return out, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case ParamInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("expected int, got %v", n)
			}
			return int64(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("expected int, got %s", n)
			}
			return i, nil
		}
	case ParamFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("expected float, got %s", n)
			}
			return f, nil
		}
	case ParamBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ParamString, ParamExpr, ParamEndpointRef:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case ParamNodeRef:
		switch r := v.(type) {
		case graph.NodeRef:
			return r, nil
		case string:
			return graph.NodeRef(r), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}
