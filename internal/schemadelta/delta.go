// Package schemadelta records which column keys a node read, introduced and
// removed relative to its inputs.
package schemadelta

import (
	"slices"

	"github.com/vk/rankgrid/internal/rowset"
)

// Delta is the schema change of one node.
type Delta struct {
	InKeys      []string `json:"in_keys_union"`
	OutKeys     []string `json:"out_keys"`
	NewKeys     []string `json:"new_keys"`
	RemovedKeys []string `json:"removed_keys"`
}

// NodeDelta pairs a delta with the node that produced it.
type NodeDelta struct {
	NodeID string `json:"node_id"`
	Delta  Delta  `json:"delta"`
}

// Compute derives the delta of out against inputs. A unary node that hands
// back its input batch unchanged has no new or removed keys.
func Compute(inputs []*rowset.RowSet, out *rowset.RowSet) Delta {
	if len(inputs) == 1 && inputs[0].Batch() == out.Batch() {
		keys := out.Keys()
		return Delta{InKeys: keys, OutKeys: keys, NewKeys: []string{}, RemovedKeys: []string{}}
	}

	var in []string
	for _, rs := range inputs {
		for _, k := range rs.Keys() {
			if !slices.Contains(in, k) {
				in = append(in, k)
			}
		}
	}
	slices.Sort(in)
	if in == nil {
		in = []string{}
	}
	outKeys := out.Keys()

	return Delta{
		InKeys:      in,
		OutKeys:     outKeys,
		NewKeys:     difference(outKeys, in),
		RemovedKeys: difference(in, outKeys),
	}
}

// difference returns sorted a minus b. Both inputs are sorted.
func difference(a, b []string) []string {
	out := []string{}
	for _, k := range a {
		if _, found := slices.BinarySearch(b, k); !found {
			out = append(out, k)
		}
	}
	return out
}
