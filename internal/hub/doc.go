// Package hub is the routing core of the process. Hub answers ListTools
// and CallTool against the group-scoped tool surface, dispatches each call
// to the owning backend server or the API adapter by tool origin, and
// aggregates diagnostics and message traces for the admin surface.
//
// Server exposes a Hub over an MCP endpoint. Every servable group gets its
// own MCP server instance; streamable-http requests pick their group by
// path (/mcp/{group}) or the X-MCP-Group header, while sse and stdio serve
// the default group. Registry mutations reach the per-group tool sets
// through a debounced refresh, which emits tools/list_changed to connected
// clients as a side effect of the add/delete diff.
package hub
