// Package config loads and validates the hub's configuration documents.
//
// A configuration directory holds up to four documents:
//
//   - config.yaml     hub process settings (bind address, transport, cache)
//   - mcp_server.json backend MCP server definitions
//   - group.json      tool visibility groups
//   - api-tools.json  declarative REST-to-MCP tool definitions
//
// The three JSON documents are also accepted with .yaml/.yml extensions;
// they are decoded through sigs.k8s.io/yaml so both encodings share the
// same field names. Loading produces an immutable Snapshot; consumers swap
// snapshots atomically on reload and never mutate one in place.
//
// Watcher emits debounced change events for the documents so the
// application layer can trigger reloads.
package config
