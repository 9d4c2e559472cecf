package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// manifestVersion is bumped whenever the manifest layout changes.
const manifestVersion = 1

// Manifest returns the canonical JSON description of every operator: sorted
// by name, params sorted by name, object keys sorted, no whitespace.
func (r *Registry) Manifest() ([]byte, error) {
	ops := r.Ops()
	tasks := make([]map[string]any, 0, len(ops))
	for _, spec := range ops {
		params := slices.Clone(spec.Params)
		slices.SortFunc(params, func(a, b ParamSpec) int { return strings.Compare(a.Name, b.Name) })

		pj := make([]map[string]any, 0, len(params))
		for _, p := range params {
			m := map[string]any{
				"name":     p.Name,
				"required": p.Required,
				"type":     p.Type.String(),
			}
			if p.Default != nil {
				m["default"] = p.Default
			}
			if p.Type == ParamEndpointRef {
				m["endpoint_kind"] = string(p.EndpointKind)
			}
			pj = append(pj, m)
		}
		tasks = append(tasks, map[string]any{
			"op":             spec.Name,
			"params":         pj,
			"output_pattern": spec.Pattern.String(),
			"default_budget": map[string]any{"timeout_ms": spec.DefaultTimeout.Milliseconds()},
			"io":             spec.IsIO,
			"async":          spec.RunAsync != nil,
		})
	}
	return CanonicalJSON(map[string]any{
		"schema_version": manifestVersion,
		"tasks":          tasks,
	})
}

// ManifestDigest is the sha256 of Manifest, prefixed with "sha256:".
func (r *Registry) ManifestDigest() (string, error) {
	m, err := r.Manifest()
	if err != nil {
		return "", err
	}
	return Digest(m), nil
}

// CanonicalJSON encodes v with sorted object keys, no HTML escaping and no
// trailing newline. v must be built from maps, slices and scalars.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode canonical JSON: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Digest returns "sha256:" followed by the hex sha256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
