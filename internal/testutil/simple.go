package testutil

import "github.com/vk/rankgrid/internal/registry"

// SimpleModule registers a fixed list of operators.
type SimpleModule struct {
	Ops []*registry.OpSpec
}

// Register implements the registry.Module interface.
func (m *SimpleModule) Register(r *registry.Registry) {
	for _, op := range m.Ops {
		r.Register(op)
	}
}
