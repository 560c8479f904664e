package mcpserver

import (
	"fmt"

	"mcphub/internal/config"
)

// ClientFactory builds a transport client for one server definition. The
// manager calls it for every connection attempt so a failed transport never
// gets reused.
type ClientFactory func(def config.ServerDefinition) (MCPClient, error)

// NewClientFromDefinition creates the appropriate MCP client for a server
// definition.
//
// Supported types:
//   - "stdio": local subprocess communication
//   - "sse": Server-Sent Events
//   - "streamable-http": streamable HTTP
//
// Returns an error if the server type is not recognized.
func NewClientFromDefinition(def config.ServerDefinition) (MCPClient, error) {
	switch def.Type {
	case config.TransportStdio:
		if def.Command == "" {
			return nil, fmt.Errorf("command is required for stdio type")
		}
		return NewStdioClient(def.Command, def.Args, def.Env), nil

	case config.TransportSSE:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for sse type")
		}
		return NewSSEClient(def.URL, def.Headers), nil

	case config.TransportStreamableHTTP:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http type")
		}
		return NewStreamableHTTPClient(def.URL, def.Headers), nil

	default:
		return nil, fmt.Errorf("unsupported MCP server type: %s (supported: %s, %s, %s)",
			def.Type, config.TransportStdio, config.TransportSSE, config.TransportStreamableHTTP)
	}
}
