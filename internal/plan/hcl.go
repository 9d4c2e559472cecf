package plan

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/rankgrid/internal/endpoint"
	"github.com/vk/rankgrid/internal/graph"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Traversal roots usable inside plan expressions.
const (
	nodeRoot     = "node"
	endpointRoot = "endpoint"
)

// fileRoot decodes every top-level block a plan file may hold.
type fileRoot struct {
	Plans     []*hclPlan     `hcl:"plan,block"`
	Endpoints []*hclEndpoint `hcl:"endpoint,block"`
	Nodes     []*hclNode     `hcl:"node,block"`
	Remain    hcl.Body       `hcl:",remain"`
}

type hclPlan struct {
	Name         string         `hcl:"name,label"`
	Outputs      hcl.Expression `hcl:"outputs,optional"`
	Params       hcl.Expression `hcl:"params,optional"`
	Capabilities []string       `hcl:"capabilities_required,optional"`
}

type hclEndpoint struct {
	ID               string `hcl:"id,label"`
	Kind             string `hcl:"kind"`
	Address          string `hcl:"address"`
	Namespace        string `hcl:"namespace,optional"`
	MaxInflight      int    `hcl:"max_inflight,optional"`
	ConnectTimeoutMs int    `hcl:"connect_timeout_ms,optional"`
	RequestTimeoutMs int    `hcl:"request_timeout_ms,optional"`
}

type hclNode struct {
	ID        string         `hcl:"id,label"`
	Op        string         `hcl:"op"`
	Inputs    hcl.Expression `hcl:"inputs,optional"`
	Params    hcl.Expression `hcl:"params,optional"`
	TimeoutMs int            `hcl:"timeout_ms,optional"`
}

// ParseHCL decodes one HCL plan file.
//
//	plan "ranking" {
//	  outputs = [node.top]
//	  params  = { min_score = 0.2 }
//	}
//	endpoint "kv" {
//	  kind    = "redis"
//	  address = "127.0.0.1:6379"
//	}
//	node "top" {
//	  op     = "take"
//	  inputs = [node.sorted]
//	  params = { count = 20 }
//	}
//
// Inside params, node.<id> is a node reference and endpoint.<id> names an
// endpoint.
func ParseHCL(filename string, src []byte) (*Plan, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	p := &Plan{Files: []string{filename}}
	if len(root.Plans) > 1 {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diagAt(root.Plans[1].Outputs, "Duplicate plan block", "A file may declare at most one plan block."))
	}
	for _, pb := range root.Plans {
		p.Name = pb.Name
		outputs, diags := nodeList(pb.Outputs)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid outputs in %s: %w", filename, diags)
		}
		p.Outputs = outputs
		params, diags := valueMap(pb.Params, false)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid plan params in %s: %w", filename, diags)
		}
		p.Params = params
		if err := checkCapabilities(pb.Capabilities, nil); err != nil {
			return nil, fmt.Errorf("plan file %s: %w", filename, err)
		}
		p.Capabilities = pb.Capabilities
	}

	for _, eb := range root.Endpoints {
		p.Endpoints = append(p.Endpoints, eb.toEndpoint())
	}

	for _, nb := range root.Nodes {
		n, diags := nb.toNode()
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid node '%s' in %s: %w", nb.ID, filename, diags)
		}
		p.Nodes = append(p.Nodes, n)
	}
	return p, nil
}

func (e *hclEndpoint) toEndpoint() endpoint.Endpoint {
	return endpoint.Endpoint{
		ID:        e.ID,
		Kind:      endpoint.Kind(e.Kind),
		Address:   e.Address,
		Namespace: e.Namespace,
		Policy:    policy(e.MaxInflight, e.ConnectTimeoutMs, e.RequestTimeoutMs),
	}
}

func (n *hclNode) toNode() (graph.Node, hcl.Diagnostics) {
	inputs, diags := nodeList(n.Inputs)
	if diags.HasErrors() {
		return graph.Node{}, diags
	}
	params, pdiags := valueMap(n.Params, true)
	diags = append(diags, pdiags...)
	if diags.HasErrors() {
		return graph.Node{}, diags
	}
	return graph.Node{ID: n.ID, Op: n.Op, Inputs: inputs, Params: params, TimeoutMs: n.TimeoutMs}, diags
}

// isAbsent reports whether expr is the null placeholder gohcl assigns to
// missing optional attributes.
func isAbsent(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}

// nodeList decodes a list of node.<id> traversals.
func nodeList(expr hcl.Expression) ([]string, hcl.Diagnostics) {
	if isAbsent(expr) {
		return nil, nil
	}
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		root, name, ok := reference(item)
		if !ok || root != nodeRoot {
			diags = append(diags, diagAt(item, "Invalid node reference", "Expected a reference of the form node.<id>."))
			continue
		}
		ids = append(ids, name)
	}
	return ids, diags
}

// valueMap decodes an object expression into Go values. With refs set,
// node.<id> becomes a graph.NodeRef and endpoint.<id> the endpoint id.
func valueMap(expr hcl.Expression, refs bool) (map[string]any, hcl.Diagnostics) {
	if isAbsent(expr) {
		return nil, nil
	}
	pairs, diags := hcl.ExprMap(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		var key string
		if kdiags := gohcl.DecodeExpression(kv.Key, nil, &key); kdiags.HasErrors() {
			diags = append(diags, kdiags...)
			continue
		}
		if refs {
			if root, name, ok := reference(kv.Value); ok {
				switch root {
				case nodeRoot:
					out[key] = graph.NodeRef(name)
					continue
				case endpointRoot:
					out[key] = name
					continue
				}
			}
		}
		v, vdiags := kv.Value.Value(nil)
		if vdiags.HasErrors() {
			diags = append(diags, vdiags...)
			continue
		}
		gv, err := ctyToGo(v)
		if err != nil {
			diags = append(diags, diagAt(kv.Value, "Unsupported value", fmt.Sprintf("Param '%s': %v.", key, err)))
			continue
		}
		out[key] = gv
	}
	return out, diags
}

// reference matches expressions of the form <root>.<name>.
func reference(expr hcl.Expression) (root, name string, ok bool) {
	traversal, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() || len(traversal) != 2 {
		return "", "", false
	}
	attr, isAttr := traversal[1].(hcl.TraverseAttr)
	if !isAttr {
		return "", "", false
	}
	return traversal.RootName(), attr.Name, true
}

func ctyToGo(v cty.Value) (any, error) {
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		if v.AsBigFloat().IsInt() {
			var i int64
			if err := gocty.FromCtyValue(v, &i); err == nil {
				return i, nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t.FriendlyName())
	}
}

func diagAt(expr hcl.Expression, summary, detail string) *hcl.Diagnostic {
	d := &hcl.Diagnostic{Severity: hcl.DiagError, Summary: summary, Detail: detail}
	if expr != nil {
		d.Subject = expr.Range().Ptr()
	}
	return d
}
