package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/config"
)

// Connection is the runtime state of one configured backend. It is created
// when the manager first sees the definition and lives until shutdown or
// until a reload removes the definition.
type Connection struct {
	mu  sync.RWMutex
	id  string
	def config.ServerDefinition

	client            MCPClient
	status            Status
	lastConnectedAt   time.Time
	lastError         error
	tools             []mcp.Tool
	reconnectAttempts int

	// kick wakes the supervisor to start a reconnect cycle. Buffered so
	// multiple failure reports collapse into one cycle.
	kick chan struct{}

	// cancel stops the supervisor goroutine bound to this connection.
	cancel context.CancelFunc
}

func newConnection(id string, def config.ServerDefinition) *Connection {
	return &Connection{
		id:     id,
		def:    def,
		status: StatusDisconnected,
		kick:   make(chan struct{}, 1),
	}
}

// ID returns the configured server id.
func (c *Connection) ID() string {
	return c.id
}

// Status returns the current connection status.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Definition returns the server definition this connection was built from.
func (c *Connection) Definition() config.ServerDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Info returns a diagnostics snapshot.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := ConnectionInfo{
		ID:                c.id,
		Status:            c.status,
		LastConnectedAt:   c.lastConnectedAt,
		ToolCount:         len(c.tools),
		ReconnectAttempts: c.reconnectAttempts,
	}
	if c.lastError != nil {
		info.LastError = c.lastError.Error()
	}
	return info
}

// Tools returns a copy of the last discovered tool snapshot.
func (c *Connection) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// toolNames returns the names of the last discovered snapshot.
func (c *Connection) toolNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	return names
}

// dispatchClient returns the transport client when the connection is ready
// for calls.
func (c *Connection) dispatchClient() (MCPClient, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.status != StatusConnected || c.client == nil {
		return nil, false
	}
	return c.client, true
}

// detachClient removes the transport from the connection without changing
// its status and returns it so the caller can close it. Used when a dead
// transport is about to be replaced.
func (c *Connection) detachClient() MCPClient {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.tools = nil
	c.mu.Unlock()
	return client
}

// setStatus transitions the connection state.
func (c *Connection) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// setConnected installs a freshly initialized client and its discovered
// tools, returning the previous client so the caller can close it.
func (c *Connection) setConnected(client MCPClient, tools []mcp.Tool) MCPClient {
	c.mu.Lock()
	previous := c.client
	c.client = client
	c.tools = tools
	c.status = StatusConnected
	c.lastConnectedAt = time.Now()
	c.lastError = nil
	c.reconnectAttempts = 0
	c.mu.Unlock()
	return previous
}

// fail records a connection failure.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	c.status = StatusError
	c.lastError = err
	c.mu.Unlock()
}

// beginReconnect flips the connection into the reconnecting state and
// counts the attempt.
func (c *Connection) beginReconnect() int {
	c.mu.Lock()
	c.status = StatusReconnecting
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.mu.Unlock()
	return attempts
}

// close shuts the transport down and marks the connection disconnected.
func (c *Connection) close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.tools = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// bindSupervisor records the cancel function for this connection's
// supervisor goroutine.
func (c *Connection) bindSupervisor(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}

// stopSupervisor terminates the supervisor goroutine if one is bound.
func (c *Connection) stopSupervisor() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// requestReconnect wakes the supervisor. Reports arriving while a cycle is
// already pending are dropped.
func (c *Connection) requestReconnect() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
