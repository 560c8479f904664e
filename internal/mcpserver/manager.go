package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"mcphub/internal/config"
	"mcphub/internal/errdefs"
	"mcphub/internal/registry"
	"mcphub/internal/resilience"
	"mcphub/internal/trace"
	"mcphub/pkg/logging"
)

const (
	// DefaultPingInterval is how often connected servers are health checked.
	DefaultPingInterval = 30 * time.Second

	// connectTimeout bounds one connection attempt including the initialize
	// handshake and tool discovery.
	connectTimeout = 30 * time.Second

	// pingTimeout bounds one health check round trip.
	pingTimeout = 10 * time.Second
)

// Options tunes the manager. Zero values fall back to defaults, so
// NewManager(reg, tracer, Options{}) is the production configuration.
type Options struct {
	// PingInterval is the health check period for connected servers.
	PingInterval time.Duration

	// Backoff is the reconnect schedule.
	Backoff resilience.Policy

	// Factory builds transport clients from definitions. Tests install a
	// fake here.
	Factory ClientFactory
}

// Manager owns the connection to every configured backend server. It
// connects them in parallel, publishes their tools into the registry,
// health checks them, and reconnects dead ones with capped backoff. All
// methods are safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	closed      bool

	registry *registry.Registry
	tracer   *trace.Tracer

	factory      ClientFactory
	backoff      resilience.Policy
	pingInterval time.Duration

	// ctx is the manager lifetime; supervisor goroutines derive from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager that publishes tools into reg and records
// backend traffic in tracer.
func NewManager(reg *registry.Registry, tracer *trace.Tracer, opts Options) *Manager {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Factory == nil {
		opts.Factory = NewClientFromDefinition
	}
	if opts.Backoff == (resilience.Policy{}) {
		opts.Backoff = resilience.DefaultPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connections:  make(map[string]*Connection),
		registry:     reg,
		tracer:       tracer,
		factory:      opts.Factory,
		backoff:      opts.Backoff,
		pingInterval: opts.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Initialize connects to all given servers in parallel and returns once
// every attempt finished. Failed servers are reported in the summary and
// keep retrying in the background, so one bad server never blocks the rest.
func (m *Manager) Initialize(ctx context.Context, servers map[string]config.ServerDefinition) InitSummary {
	ids := make([]string, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	logging.Info("MCPServerManager", "Connecting to %d MCP server(s)", len(ids))

	var (
		resMu   sync.Mutex
		summary InitSummary
	)
	var g errgroup.Group
	for _, id := range ids {
		id := id
		def := servers[id]
		g.Go(func() error {
			conn := newConnection(id, def)
			m.mu.Lock()
			m.connections[id] = conn
			m.mu.Unlock()

			err := m.connect(ctx, conn)

			resMu.Lock()
			if err != nil {
				summary.Failed = append(summary.Failed, id)
			} else {
				summary.Connected = append(summary.Connected, id)
			}
			resMu.Unlock()

			if err != nil {
				logging.Error("MCPServerManager", err, "Initial connection to server %s failed", id)
				conn.requestReconnect()
			}
			m.startSupervisor(conn)
			return nil
		})
	}
	g.Wait()

	sort.Strings(summary.Connected)
	sort.Strings(summary.Failed)
	logging.Info("MCPServerManager", "Startup complete: %d connected, %d failed",
		len(summary.Connected), len(summary.Failed))
	return summary
}

// Apply reconciles the running connections with a new server map. New
// servers are started, removed ones stopped, and servers whose definition
// changed are restarted with the new definition. Unchanged servers keep
// their connection.
func (m *Manager) Apply(ctx context.Context, servers map[string]config.ServerDefinition) {
	m.mu.Lock()
	var stale []*Connection
	for id, conn := range m.connections {
		def, keep := servers[id]
		if keep && reflect.DeepEqual(conn.Definition(), def) {
			continue
		}
		delete(m.connections, id)
		stale = append(stale, conn)
	}
	m.mu.Unlock()

	// Stop removed servers first so restarted ids release their tool names.
	for _, conn := range stale {
		m.remove(conn)
	}

	m.mu.Lock()
	var fresh []*Connection
	for id, def := range servers {
		if _, ok := m.connections[id]; ok {
			continue
		}
		conn := newConnection(id, def)
		m.connections[id] = conn
		fresh = append(fresh, conn)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, conn := range fresh {
		conn := conn
		g.Go(func() error {
			if err := m.connect(ctx, conn); err != nil {
				logging.Error("MCPServerManager", err, "Connection to server %s failed", conn.ID())
				conn.requestReconnect()
			}
			m.startSupervisor(conn)
			return nil
		})
	}
	g.Wait()

	if len(stale) > 0 || len(fresh) > 0 {
		logging.Info("MCPServerManager", "Applied server changes: %d stopped, %d started",
			len(stale), len(fresh))
	}
}

// Shutdown closes every connection in parallel and waits for the
// supervisors to exit. It is idempotent. Afterwards no connection reports
// a connected status and no backend tools remain registered.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	m.cancel()

	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			m.registry.UnregisterBySource(conn.ID())
			if err := conn.close(); err != nil {
				logging.Warn("MCPServerManager", "Error closing connection to server %s: %v", conn.ID(), err)
			}
			return nil
		})
	}
	g.Wait()
	m.wg.Wait()

	logging.Info("MCPServerManager", "All MCP server connections closed")
	return nil
}

// Dispatch executes a tool call on the given backend. The call and its
// outcome are both recorded in the trace buffer. A server that is not
// currently connected fails fast instead of queueing.
func (m *Manager) Dispatch(ctx context.Context, serverID, tool string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	conn, ok := m.get(serverID)
	if !ok {
		return nil, errdefs.NewServerUnavailable(serverID)
	}
	client, ready := conn.dispatchClient()
	if !ready {
		return nil, errdefs.NewServerUnavailable(serverID)
	}

	m.tracer.Request(serverID, "tools/call", map[string]interface{}{
		"name":      tool,
		"arguments": args,
	})

	start := time.Now()
	result, err := client.CallTool(ctx, tool, args)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		m.tracer.Response(serverID, "tools/call", map[string]interface{}{"error": err.Error()}, elapsed)
		return nil, dispatchError(serverID, tool, err)
	}

	m.tracer.Response(serverID, "tools/call", map[string]interface{}{
		"isError": result.IsError,
		"content": result.Content,
	}, elapsed)
	return result, nil
}

// States returns a diagnostics snapshot of every connection, sorted by
// server id.
func (m *Manager) States() []ConnectionInfo {
	m.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		infos = append(infos, conn.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Get returns the state of one connection.
func (m *Manager) Get(serverID string) (ConnectionInfo, bool) {
	conn, ok := m.get(serverID)
	if !ok {
		return ConnectionInfo{}, false
	}
	return conn.Info(), true
}

// ConnectedCount returns how many servers are currently connected.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conn := range m.connections {
		if conn.Status() == StatusConnected {
			count++
		}
	}
	return count
}

func (m *Manager) get(serverID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[serverID]
	return conn, ok
}

// connect dials the backend, runs the initialize handshake, discovers
// tools and publishes them. On failure the connection keeps its previous
// error state and the caller decides whether to retry.
func (m *Manager) connect(ctx context.Context, conn *Connection) error {
	if conn.Status() != StatusReconnecting {
		conn.setStatus(StatusConnecting)
	}
	def := conn.Definition()
	logging.Debug("MCPServerManager", "Connecting to server %s (%s)", conn.ID(), def.Type)

	client, err := m.factory(def)
	if err != nil {
		conn.fail(err)
		return errdefs.NewStartupFailed(conn.ID(), err)
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Initialize(cctx); err != nil {
		client.Close()
		conn.fail(err)
		return errdefs.NewStartupFailed(conn.ID(), err)
	}

	tools, err := m.discoverTools(cctx, conn.ID(), client)
	if err != nil {
		client.Close()
		conn.fail(err)
		return errdefs.NewStartupFailed(conn.ID(), err)
	}

	// A reload may have dropped this server while the handshake ran.
	if current, ok := m.get(conn.ID()); !ok || current != conn {
		client.Close()
		return fmt.Errorf("server %s was removed while connecting", conn.ID())
	}

	previousNames := conn.toolNames()
	if previous := conn.setConnected(client, tools); previous != nil {
		previous.Close()
	}
	m.registerTools(conn.ID(), previousNames, tools)

	logging.Info("MCPServerManager", "Connected to server %s (%d tools)", conn.ID(), len(tools))
	return nil
}

// discoverTools lists the backend's tools, recording the exchange in the
// trace buffer.
func (m *Manager) discoverTools(ctx context.Context, serverID string, client MCPClient) ([]mcp.Tool, error) {
	m.tracer.Request(serverID, "tools/list", nil)

	start := time.Now()
	tools, err := client.ListTools(ctx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		m.tracer.Response(serverID, "tools/list", map[string]interface{}{"error": err.Error()}, elapsed)
		return nil, fmt.Errorf("tool discovery failed: %w", err)
	}

	m.tracer.Response(serverID, "tools/list", map[string]interface{}{"tools": len(tools)}, elapsed)
	return tools, nil
}

// registerTools publishes a discovery snapshot. Name collisions across
// servers resolve to the lexicographically smallest server id, so the
// winner is stable across restarts regardless of connect order. Names from
// the previous snapshot that the server no longer advertises are dropped.
func (m *Manager) registerTools(serverID string, previousNames []string, tools []mcp.Tool) {
	current := make(map[string]bool, len(tools))
	for _, t := range tools {
		current[t.Name] = true

		if existing, ok := m.registry.Get(t.Name); ok {
			src := existing.Origin.SourceID()
			if src != serverID {
				if src < serverID {
					logging.Warn("MCPServerManager", "Tool %q from server %s is shadowed by %s (first by server id)",
						t.Name, serverID, src)
					continue
				}
				logging.Warn("MCPServerManager", "Tool %q moves from %s to server %s (first by server id)",
					t.Name, src, serverID)
			}
		}

		if err := m.registry.Register(backendTool(serverID, t)); err != nil {
			logging.Warn("MCPServerManager", "Skipping tool %q from server %s: %v", t.Name, serverID, err)
		}
	}

	for _, name := range previousNames {
		if current[name] {
			continue
		}
		existing, ok := m.registry.Get(name)
		if ok && existing.Origin.Kind == registry.OriginBackend && existing.Origin.ServerID == serverID {
			m.registry.Unregister(name)
			logging.Debug("MCPServerManager", "Tool %q vanished from server %s", name, serverID)
		}
	}
}

// dropTools removes a dead server's registry entries and lets the
// remaining servers pick up any names they also advertise.
func (m *Manager) dropTools(conn *Connection) {
	names := conn.toolNames()
	if removed := m.registry.UnregisterBySource(conn.ID()); removed > 0 {
		logging.Debug("MCPServerManager", "Unregistered %d tool(s) from server %s", removed, conn.ID())
	}
	m.reofferTools(names, conn.ID())
}

// reofferTools re-registers freed names from other connected servers that
// advertise them, preferring the lexicographically smallest server id.
func (m *Manager) reofferTools(names []string, excludeID string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		if id != excludeID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, name := range names {
		if _, taken := m.registry.Get(name); taken {
			continue
		}
	offer:
		for _, id := range ids {
			conn, ok := m.get(id)
			if !ok || conn.Status() != StatusConnected {
				continue
			}
			for _, t := range conn.Tools() {
				if t.Name != name {
					continue
				}
				if err := m.registry.Register(backendTool(id, t)); err == nil {
					logging.Info("MCPServerManager", "Tool %q now served by %s", name, id)
				}
				break offer
			}
		}
	}
}

// remove stops a connection that a reload dropped, releasing its tools.
func (m *Manager) remove(conn *Connection) {
	conn.stopSupervisor()
	names := conn.toolNames()
	m.registry.UnregisterBySource(conn.ID())
	if err := conn.close(); err != nil {
		logging.Warn("MCPServerManager", "Error closing connection to server %s: %v", conn.ID(), err)
	}
	m.reofferTools(names, conn.ID())
	logging.Info("MCPServerManager", "Stopped server %s", conn.ID())
}

// startSupervisor launches the goroutine that owns health checks and
// reconnects for one connection.
func (m *Manager) startSupervisor(conn *Connection) {
	ctx, cancel := context.WithCancel(m.ctx)
	conn.bindSupervisor(cancel)

	m.wg.Add(1)
	go m.supervise(ctx, conn)
}

// supervise is the per-connection control loop. It reacts to reconnect
// requests and periodically pings the backend. Exactly one goroutine runs
// per connection, so reconnect cycles never overlap.
func (m *Manager) supervise(ctx context.Context, conn *Connection) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.kick:
			m.reconnectLoop(ctx, conn)
		case <-ticker.C:
			m.checkHealth(ctx, conn)
		}
	}
}

// checkHealth pings a connected backend. A failed ping marks the server
// disconnected, withdraws its tools and starts the reconnect cycle.
func (m *Manager) checkHealth(ctx context.Context, conn *Connection) {
	client, ok := conn.dispatchClient()
	if !ok {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := client.Ping(pingCtx)
	cancel()
	if err == nil {
		return
	}

	logging.Warn("MCPServerManager", "Health check for server %s failed: %v", conn.ID(), err)
	conn.fail(err)
	m.dropTools(conn)
	m.reconnectLoop(ctx, conn)
}

// reconnectLoop retries the connection with capped exponential backoff
// until it succeeds or the supervisor stops.
func (m *Manager) reconnectLoop(ctx context.Context, conn *Connection) {
	if old := conn.detachClient(); old != nil {
		old.Close()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		attempt := conn.beginReconnect()
		delay := m.backoff.Backoff(attempt - 1)
		logging.Info("MCPServerManager", "Reconnecting to server %s in %s (attempt %d)", conn.ID(), delay, attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := m.connect(ctx, conn); err != nil {
			logging.Warn("MCPServerManager", "Reconnect attempt %d for server %s failed: %v", attempt, conn.ID(), err)
			continue
		}

		logging.Info("MCPServerManager", "Reconnected to server %s after %d attempt(s)", conn.ID(), attempt)
		return
	}
}

// dispatchError maps a transport failure to the error taxonomy. Timeouts
// and cancellations keep their retriable classification; everything else
// counts as a tool execution failure.
func dispatchError(serverID, tool string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errdefs.Wrap(err, errdefs.CodeConnectionTimeout, errdefs.SeverityMedium, "connection-timeout").
			WithDetails("call to tool %q on server %q did not complete", tool, serverID)
	}
	return errdefs.Wrap(err, errdefs.CodeToolExecutionFailed, errdefs.SeverityMedium, "tool-execution-failed").
		WithDetails("tool %q on server %q", tool, serverID)
}

func backendTool(serverID string, t mcp.Tool) registry.Tool {
	return registry.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schemaToMap(t.InputSchema),
		Origin:      registry.BackendOrigin(serverID),
	}
}

// schemaToMap converts the wire-format input schema into the registry's
// generic representation.
func schemaToMap(schema mcp.ToolInputSchema) map[string]interface{} {
	out := map[string]interface{}{"type": schema.Type}
	if schema.Type == "" {
		out["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
