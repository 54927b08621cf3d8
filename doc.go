// Package mcp implements a JSON-RPC 2.0 gateway that exposes a fixed set of tools, resources
// and prompt templates to a remote caller, following the Model Context Protocol method surface.
//
// The Dispatcher is the core of the package. It enforces the initialize handshake of a
// Session, routes methods to the descriptors held by a sealed Registry, validates params
// against their declared schemas and normalizes results and errors. Expected failures of a
// valid call, such as a division by zero, are returned as results carrying success=false,
// while protocol errors use the standard JSON-RPC error codes.
//
// Three transport bindings feed the Dispatcher: StdIO for line-delimited standard streams,
// SSEServer for Server-Sent Events with a POST message endpoint, and HTTPHandler for
// stateless request/response calls together with a small REST projection.
package mcp
