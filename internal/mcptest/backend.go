package mcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcphub/internal/config"
)

// ToolSpec describes one tool a backend serves.
type ToolSpec struct {
	Name        string
	Description string

	// Result is the text returned on every call. Empty means the call
	// arguments are echoed back as JSON, which lets tests verify argument
	// propagation without a custom handler.
	Result string

	// Fail makes every call return a tool error result.
	Fail bool

	// Handler overrides the canned behavior entirely when set.
	Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tool builds the common case of a ToolSpec with a fixed text result.
func Tool(name, description, result string) ToolSpec {
	return ToolSpec{Name: name, Description: description, Result: result}
}

// Backend is an in-process MCP server for tests. It serves a fixed tool set
// over streamable-http or sse on a loopback listener and counts the calls
// it receives. Stop closes the listener abruptly, so reconnect behavior can
// be driven the way a crashing server would.
type Backend struct {
	name string
	mcp  *server.MCPServer

	mu        sync.Mutex
	calls     map[string]int
	transport string
	listener  net.Listener
	httpSrv   *http.Server
	port      int
	running   bool
	serveErr  error
}

// NewBackend creates a backend named name serving the given tools. Call
// Start (or StartOn) before handing its Definition to a manager.
func NewBackend(name string, tools ...ToolSpec) *Backend {
	b := &Backend{
		name:  name,
		calls: make(map[string]int),
	}
	b.mcp = server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	for _, spec := range tools {
		tool := mcp.NewTool(spec.Name, mcp.WithDescription(spec.Description))
		b.mcp.AddTool(tool, b.handler(spec))
	}
	return b
}

// Start serves the backend on a dynamically chosen loopback port and
// returns the endpoint URL for the given transport
// (config.TransportStreamableHTTP or config.TransportSSE).
func (b *Backend) Start(transport string) (string, error) {
	return b.start(transport, "127.0.0.1:0")
}

// StartOn serves the backend on a fixed port. Restart scenarios use it to
// bring a replacement up at the address a client already knows.
func (b *Backend) StartOn(transport string, port int) (string, error) {
	return b.start(transport, fmt.Sprintf("127.0.0.1:%d", port))
}

func (b *Backend) start(transport, addr string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return "", fmt.Errorf("backend %s already running on port %d", b.name, b.port)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	b.listener = listener
	b.port = listener.Addr().(*net.TCPAddr).Port
	b.transport = transport

	var handler http.Handler
	switch transport {
	case config.TransportSSE:
		handler = server.NewSSEServer(
			b.mcp,
			server.WithBaseURL(fmt.Sprintf("http://127.0.0.1:%d", b.port)),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
		)
	default:
		handler = server.NewStreamableHTTPServer(b.mcp)
	}

	b.httpSrv = &http.Server{Handler: handler}
	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			b.mu.Lock()
			b.serveErr = err
			b.mu.Unlock()
		}
	}(b.httpSrv, listener)

	b.running = true
	return b.urlLocked(), nil
}

// Stop force-closes the listener and every open stream. The tool set and
// call counts survive, so StartOn can bring the same backend back.
func (b *Backend) Stop() {
	b.mu.Lock()
	srv := b.httpSrv
	b.httpSrv = nil
	b.listener = nil
	b.running = false
	b.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
}

// Definition returns the server definition a manager needs to reach this
// backend. Valid after Start.
func (b *Backend) Definition() config.ServerDefinition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return config.ServerDefinition{Type: b.transport, URL: b.urlLocked()}
}

// URL returns the endpoint for the active transport, empty before Start.
func (b *Backend) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.urlLocked()
}

func (b *Backend) urlLocked() string {
	if b.port == 0 {
		return ""
	}
	if b.transport == config.TransportSSE {
		return fmt.Sprintf("http://127.0.0.1:%d/sse", b.port)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/mcp", b.port)
}

// Port returns the bound port, 0 before Start.
func (b *Backend) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// Calls returns how many times the named tool was called.
func (b *Backend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// Err returns the serve loop error, if the listener failed.
func (b *Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serveErr
}

func (b *Backend) handler(spec ToolSpec) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b.mu.Lock()
		b.calls[spec.Name]++
		b.mu.Unlock()

		if spec.Handler != nil {
			return spec.Handler(ctx, req)
		}
		if spec.Fail {
			return mcp.NewToolResultError(fmt.Sprintf("tool %s failed", spec.Name)), nil
		}
		if spec.Result != "" {
			return mcp.NewToolResultText(spec.Result), nil
		}

		payload, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
