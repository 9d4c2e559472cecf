// Package contract checks operator outputs against their declared shape.
//
// Every operator declares a Pattern. After each invocation the executor
// calls Validate; a violation is a bug in the operator and always fails the
// run with a *runerr.ContractError.
package contract

import (
	"fmt"
	"slices"

	"github.com/vk/rankgrid/internal/rowset"
	"github.com/vk/rankgrid/internal/runerr"
)

// Pattern names an output-shape rule.
type Pattern int

const (
	// VariableDense allows any row count; active rows must be dense.
	VariableDense Pattern = iota
	// SourceFanoutDense takes no inputs; row count equals the fanout param
	// and active rows are dense.
	SourceFanoutDense
	// UnaryPreserveView keeps the input's row count and active rows.
	UnaryPreserveView
	// StableFilter keeps the input's row count; active rows are an
	// order-preserving subsequence of the input's active rows.
	StableFilter
	// PermutationOfInput keeps the input's row count; active rows are a
	// permutation of the input's active rows.
	PermutationOfInput
	// PrefixOfInput keeps the first min(count, input size) active rows.
	PrefixOfInput
	// ConcatDense takes two inputs; row count is the sum of their active
	// counts and active rows are dense.
	ConcatDense
)

var patternNames = map[Pattern]string{
	VariableDense:      "VariableDense",
	SourceFanoutDense:  "SourceFanoutDense",
	UnaryPreserveView:  "UnaryPreserveView",
	StableFilter:       "StableFilter",
	PermutationOfInput: "PermutationOfInput",
	PrefixOfInput:      "PrefixOfInput",
	ConcatDense:        "ConcatDense",
}

func (p Pattern) String() string {
	if s, ok := patternNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// Validate checks out against pattern. inputs are the declared inputs
// followed by resolved node-reference params. params holds the node's
// validated params.
func Validate(nodeID, op string, pattern Pattern, inputs []*rowset.RowSet, out *rowset.RowSet, params map[string]any) error {
	if out == nil {
		return violation(nodeID, op, "operator returned no output")
	}
	if details := check(pattern, inputs, out, params); details != "" {
		return violation(nodeID, op, details)
	}
	return nil
}

func violation(nodeID, op, details string) error {
	return &runerr.ContractError{NodeID: nodeID, Op: op, Details: details}
}

func check(pattern Pattern, inputs []*rowset.RowSet, out *rowset.RowSet, params map[string]any) string {
	switch pattern {
	case VariableDense:
		if !out.IsDense() {
			return "expected dense active rows"
		}
	case SourceFanoutDense:
		if len(inputs) != 0 {
			return fmt.Sprintf("expected 0 inputs, got %d", len(inputs))
		}
		fanout, ok := intParam(params, "fanout")
		if !ok {
			return "missing 'fanout' param"
		}
		if int64(out.Batch().Len()) != fanout {
			return fmt.Sprintf("expected row count %d (fanout), got %d", fanout, out.Batch().Len())
		}
		if !out.IsDense() {
			return "expected dense active rows"
		}
	case UnaryPreserveView:
		in, msg := unary(inputs)
		if msg != "" {
			return msg
		}
		if msg := sameRowCount(in, out); msg != "" {
			return msg
		}
		if !slices.Equal(in.Active(), out.Active()) {
			return "active rows differ from input"
		}
	case StableFilter:
		in, msg := unary(inputs)
		if msg != "" {
			return msg
		}
		if msg := sameRowCount(in, out); msg != "" {
			return msg
		}
		if !isSubsequence(out.Active(), in.Active()) {
			return "active rows are not an ordered subsequence of the input's"
		}
	case PermutationOfInput:
		in, msg := unary(inputs)
		if msg != "" {
			return msg
		}
		if msg := sameRowCount(in, out); msg != "" {
			return msg
		}
		a, b := in.Active(), out.Active()
		slices.Sort(a)
		slices.Sort(b)
		if !slices.Equal(a, b) {
			return "active rows are not a permutation of the input's"
		}
	case PrefixOfInput:
		in, msg := unary(inputs)
		if msg != "" {
			return msg
		}
		if msg := sameRowCount(in, out); msg != "" {
			return msg
		}
		count, ok := intParam(params, "count")
		if !ok {
			return "missing 'count' param"
		}
		want := in.Active()
		if int64(len(want)) > count {
			want = want[:count]
		}
		if !slices.Equal(want, out.Active()) {
			return fmt.Sprintf("expected first %d active rows of input", len(want))
		}
	case ConcatDense:
		if len(inputs) != 2 {
			return fmt.Sprintf("expected 2 inputs, got %d", len(inputs))
		}
		want := inputs[0].Len() + inputs[1].Len()
		if out.Batch().Len() != want {
			return fmt.Sprintf("expected row count %d (sum of inputs), got %d", want, out.Batch().Len())
		}
		if !out.IsDense() {
			return "expected dense active rows"
		}
	default:
		return fmt.Sprintf("unknown output pattern %s", pattern)
	}
	return ""
}

func unary(inputs []*rowset.RowSet) (*rowset.RowSet, string) {
	if len(inputs) != 1 {
		return nil, fmt.Sprintf("expected 1 input, got %d", len(inputs))
	}
	return inputs[0], ""
}

func sameRowCount(in, out *rowset.RowSet) string {
	if in.Batch().Len() != out.Batch().Len() {
		return fmt.Sprintf("expected row count %d (same as input), got %d", in.Batch().Len(), out.Batch().Len())
	}
	return ""
}

func isSubsequence(sub, of []int) bool {
	j := 0
	for _, v := range of {
		if j < len(sub) && sub[j] == v {
			j++
		}
	}
	return j == len(sub)
}

func intParam(params map[string]any, name string) (int64, bool) {
	switch v := params[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
