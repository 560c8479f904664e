// Package apitool turns declarative REST API definitions into callable MCP
// tools. Each definition compiles into a Tool whose execution pipeline
// validates arguments against the tool's parameter schema, renders the
// request from templates, applies the configured authentication, enforces
// the per-tool rate budget, consults the response cache, and shapes the
// upstream reply with JSONata before returning it as a text result.
//
// The adapter owns one seat in the tool registry: all compiled tools are
// published under the shared adapter source, and a reload swaps the whole
// set atomically.
package apitool
