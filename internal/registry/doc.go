// Package registry is the operator capability table.
//
// Every operator a plan may name is described by an OpSpec: its parameter
// schema, the output contract its results are checked against, whether it
// talks to the network, and the functions that run it. Modules register
// their specs at startup; executors resolve each node's spec exactly once.
package registry
