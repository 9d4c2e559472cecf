package plan

import (
	"slices"

	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/internal/runerr"
)

// checkCapabilities enforces the canonical form of a capability list: sorted,
// no duplicates, and every extension key listed.
func checkCapabilities(caps []string, extensions map[string]any) error {
	if !slices.IsSorted(caps) {
		return runerr.Structuralf("capabilities_required must be sorted lexicographically")
	}
	for i := 1; i < len(caps); i++ {
		if caps[i] == caps[i-1] {
			return runerr.Structuralf("capabilities_required contains duplicate: %s", caps[i])
		}
	}
	for key := range extensions {
		if _, found := slices.BinarySearch(caps, key); !found {
			return runerr.Structuralf("extension key '%s' not in capabilities_required", key)
		}
	}
	return nil
}

// CapabilitiesDigest identifies the plan's capability requirements. It is
// empty when the plan declares none.
func (p *Plan) CapabilitiesDigest() (string, error) {
	if len(p.Capabilities) == 0 && len(p.Extensions) == 0 {
		return "", nil
	}
	extensions := p.Extensions
	if extensions == nil {
		extensions = map[string]any{}
	}
	b, err := registry.CanonicalJSON(map[string]any{
		"capabilities_required": p.Capabilities,
		"extensions":            extensions,
	})
	if err != nil {
		return "", err
	}
	return registry.Digest(b), nil
}
