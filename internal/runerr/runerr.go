// Package runerr defines the error taxonomy surfaced by a plan run.
//
// Exactly one error is reported per failed run. Executors wrap whatever a
// node produced into a *NodeError so callers can tell structural problems,
// operator failures, contract violations, timeouts and connectivity failures
// apart with errors.As or KindOf.
package runerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a run failure.
type Kind int

const (
	KindExecution Kind = iota
	KindStructural
	KindContract
	KindTimeout
	KindConnectivity
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindContract:
		return "contract"
	case KindTimeout:
		return "timeout"
	case KindConnectivity:
		return "connectivity"
	default:
		return "execution"
	}
}

var (
	// ErrDeadline is returned when a node's effective deadline has already
	// passed at the moment it would have been dispatched.
	ErrDeadline = errors.New("Node execution timeout (deadline exceeded before start)")
	// ErrTimeout marks a node that ran out of time while executing.
	ErrTimeout = errors.New("node execution timeout")
	// ErrConnectivity marks failures talking to an external endpoint.
	ErrConnectivity = errors.New("endpoint connectivity failure")
)

// NodeError is the single error a failed run reports.
type NodeError struct {
	NodeID string
	Op     string
	Kind   Kind
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node '%s' (op '%s') failed [%s]: %v", e.NodeID, e.Op, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ContractError is an output-shape violation. Its message format is stable
// and matched by tooling.
type ContractError struct {
	NodeID  string
	Op      string
	Details string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("Node '%s': op '%s' violated output contract: %s", e.NodeID, e.Op, e.Details)
}

// StructuralError reports a malformed plan or graph.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string { return e.Msg }

// Structuralf builds a *StructuralError.
func Structuralf(format string, args ...any) error {
	return &StructuralError{Msg: fmt.Sprintf(format, args...)}
}

// Classify infers the Kind of an error returned by an operator or the node
// runner.
func Classify(err error) Kind {
	var ce *ContractError
	var se *StructuralError
	switch {
	case errors.As(err, &ce):
		return KindContract
	case errors.As(err, &se):
		return KindStructural
	case errors.Is(err, ErrDeadline), errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	default:
		return KindExecution
	}
}

// Wrap turns err into a *NodeError unless it already is one.
func Wrap(nodeID, op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return err
	}
	return &NodeError{NodeID: nodeID, Op: op, Kind: Classify(err), Err: err}
}

// KindOf reports the Kind of a run error, falling back to Classify for
// errors that never went through a node.
func KindOf(err error) Kind {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return Classify(err)
}
