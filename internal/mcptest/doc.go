// Package mcptest provides in-process MCP backends for tests.
//
// A Backend is a real mcp-go server on a loopback port, so connection
// management and transport code is exercised over the wire instead of
// through fakes. Typical use:
//
//	backend := mcptest.NewBackend("alpha", mcptest.Tool("echo", "Echo", "hello"))
//	url, err := backend.Start(config.TransportStreamableHTTP)
//	defer backend.Stop()
//
// Definition() yields the config.ServerDefinition that points a lifecycle
// manager at the backend.
package mcptest
