// Package graph builds the immutable TaskGraph a run executes.
//
// A node depends on its declared inputs and on every parameter whose value
// is a NodeRef. The graph records dependency and successor edges by position
// and a fixed Kahn's-algorithm order used for deterministic reporting. It is
// read-only once built and safe to share between concurrent runs.
package graph
