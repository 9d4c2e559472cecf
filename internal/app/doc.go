// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the request lifecycle: load a plan, build
// the execution environment, run the plan under the configured executor and
// print the ranked response. It is decoupled from any specific entrypoint
// like a CLI or server.
package app
