// Package mcpserver owns the connections to backend MCP servers.
//
// Each configured backend gets one Connection managed by the Manager: the
// manager connects all enabled servers in parallel at startup, discovers
// their tools into the shared registry, keeps connections alive with
// periodic pings, and reconnects with capped exponential backoff after
// transport failures. Tool calls are dispatched through Dispatch, which
// records both request and response in the message tracer.
//
// Transport clients (stdio, sse, streamable-http) implement the MCPClient
// interface on top of github.com/mark3labs/mcp-go. Tests substitute fake
// clients through the manager's client factory.
package mcpserver
