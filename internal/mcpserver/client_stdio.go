package mcpserver

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/pkg/logging"
)

// DefaultStdioInitTimeout is the default timeout for stdio client
// initialization. This covers the time needed to start the subprocess and
// complete the MCP handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioClient implements the MCPClient interface using stdio transport.
// It manages a local subprocess that communicates via stdin/stdout.
type StdioClient struct {
	baseMCPClient
	command string
	args    []string
	env     map[string]string
}

// NewStdioClient creates a new stdio-based MCP client. The configured env
// is merged over the hub's process environment when the subprocess starts.
func NewStdioClient(command string, args []string, env map[string]string) *StdioClient {
	return &StdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

// Initialize establishes the connection and performs protocol handshake
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Creating stdio client for command: %s %v", c.command, c.args)

	env := mergeEnviron(os.Environ(), c.env)

	// Create stdio client - it will start the process
	mcpClient, err := client.NewStdioMCPClient(c.command, env, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	logging.Debug("StdioClient", "Stdio client created, initializing MCP protocol for %s", c.command)

	// Initialize the MCP protocol with timeout from context
	// If no timeout in context, add a reasonable default
	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	initResult, err := mcpClient.Initialize(initCtx, newInitializeRequest())
	if err != nil {
		logging.Error("StdioClient", err, "Failed to initialize MCP protocol for %s", c.command)
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("StdioClient", "MCP protocol initialized for %s (server %s %s)",
		c.command, initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	c.client = mcpClient
	c.connected = true

	return nil
}

// Close cleanly shuts down the client connection
func (c *StdioClient) Close() error {
	return c.closeClient()
}

// ListTools returns all available tools from the server
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// mergeEnviron overlays config variables on the process environment. The
// overlay wins for duplicate names, and the result is sorted for stable
// subprocess environments.
func mergeEnviron(environ []string, overlay map[string]string) []string {
	merged := make(map[string]string, len(environ)+len(overlay))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
