package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"mcphub/internal/config"
	"mcphub/internal/group"
	"mcphub/internal/mcpserver"
	"mcphub/internal/registry"
	"mcphub/pkg/logging"
)

// GroupHeader selects the group on streamable-http requests to /mcp. A
// /mcp/{group} path takes precedence over the header.
const GroupHeader = "X-MCP-Group"

// DiagnosticsTool is the builtin tool every group endpoint serves.
const DiagnosticsTool = "hub_diagnostics"

// refreshDebounce collapses bursts of registry events into one endpoint
// rebuild.
const refreshDebounce = 100 * time.Millisecond

// ServerOptions configures the frontend endpoint.
type ServerOptions struct {
	Host      string
	Port      int
	Transport string
	Version   string
}

// groupEndpoint is the MCP server instance serving one group. active
// tracks what is registered on it so refreshes can diff instead of
// rebuilding.
type groupEndpoint struct {
	mcp        *mcpsrv.MCPServer
	streamable *mcpsrv.StreamableHTTPServer
	active     map[string]registry.Tool
}

// Server exposes the hub over an MCP endpoint, one MCP server instance per
// group plus a shared empty one for unknown groups.
type Server struct {
	hub  *Hub
	opts ServerOptions

	mu          sync.RWMutex
	groups      map[string]*groupEndpoint
	unknown     *mcpsrv.StreamableHTTPServer
	httpServer  *http.Server
	sseServer   *mcpsrv.SSEServer
	stdioServer *mcpsrv.StdioServer
	health      http.Handler
	started     bool

	refreshKick chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewServer creates the frontend over hub and subscribes to registry
// events so tool changes propagate to connected clients.
func NewServer(h *Hub, reg *registry.Registry, opts ServerOptions) *Server {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		hub:         h,
		opts:        opts,
		groups:      make(map[string]*groupEndpoint),
		unknown:     mcpsrv.NewStreamableHTTPServer(newGroupMCPServer(opts.Version)),
		refreshKick: make(chan struct{}, 1),
	}
	reg.Subscribe(func(registry.Event) { s.scheduleRefresh() })
	return s
}

// Start builds the group endpoints and serves the configured transport.
// The listener runs in the background; transport failures are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("hub frontend already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.Refresh()

	s.wg.Add(1)
	go s.watchRegistry()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	switch s.opts.Transport {
	case config.TransportStdio:
		logging.Info("Hub", "Serving MCP frontend on stdio")
		stdioServer := mcpsrv.NewStdioServer(s.defaultEndpoint().mcp)
		s.mu.Lock()
		s.stdioServer = stdioServer
		runCtx := s.ctx
		s.mu.Unlock()
		go func() {
			if err := stdioServer.Listen(runCtx, os.Stdin, os.Stdout); err != nil && runCtx.Err() == nil {
				logging.Error("Hub", err, "Stdio frontend error")
			}
		}()

	case config.TransportSSE:
		logging.Info("Hub", "Serving MCP frontend with sse transport on %s", addr)
		sseServer := mcpsrv.NewSSEServer(
			s.defaultEndpoint().mcp,
			mcpsrv.WithBaseURL(fmt.Sprintf("http://%s", addr)),
			mcpsrv.WithSSEEndpoint("/sse"),
			mcpsrv.WithMessageEndpoint("/message"),
			mcpsrv.WithKeepAlive(true),
			mcpsrv.WithKeepAliveInterval(30*time.Second),
		)
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.serveHealth)
		mux.Handle("/", sseServer)
		s.serveHTTP(addr, mux, sseServer)

	case config.TransportStreamableHTTP:
		fallthrough
	default:
		logging.Info("Hub", "Serving MCP frontend with streamable-http transport on %s", addr)
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.serveHealth)
		mux.HandleFunc("/mcp", s.serveMCP)
		mux.HandleFunc("/mcp/", s.serveMCP)
		s.serveHTTP(addr, mux, nil)
	}

	return nil
}

// serveHTTP runs an HTTP server for the frontend in the background.
func (s *Server) serveHTTP(addr string, handler http.Handler, sseServer *mcpsrv.SSEServer) {
	httpServer := &http.Server{Addr: addr, Handler: handler}
	s.mu.Lock()
	s.httpServer = httpServer
	s.sseServer = sseServer
	s.mu.Unlock()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Hub", err, "Frontend server error")
		}
	}()
}

// Stop shuts the frontend down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	httpServer := s.httpServer
	s.httpServer = nil
	s.sseServer = nil
	s.stdioServer = nil
	s.mu.Unlock()

	logging.Info("Hub", "Stopping MCP frontend")
	if cancel != nil {
		cancel()
	}

	if httpServer != nil {
		shutdownCtx, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
		defer cancelTimeout()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			// Long-lived streams hold Shutdown open past the deadline.
			httpServer.Close()
			logging.Warn("Hub", "Frontend shutdown forced: %v", err)
		}
	}

	s.wg.Wait()
	return nil
}

// Endpoint returns the frontend address for the active transport.
func (s *Server) Endpoint() string {
	switch s.opts.Transport {
	case config.TransportSSE:
		return fmt.Sprintf("http://%s:%d/sse", s.opts.Host, s.opts.Port)
	case config.TransportStdio:
		return "stdio"
	default:
		return fmt.Sprintf("http://%s:%d/mcp", s.opts.Host, s.opts.Port)
	}
}

// scheduleRefresh requests a debounced endpoint rebuild. Duplicate kicks
// collapse into the pending one.
func (s *Server) scheduleRefresh() {
	select {
	case s.refreshKick <- struct{}{}:
	default:
	}
}

// watchRegistry turns registry event kicks into refreshes. The first kick
// arms the debounce window; kicks inside it are absorbed.
func (s *Server) watchRegistry() {
	defer s.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.refreshKick:
			if pending == nil {
				pending = time.After(refreshDebounce)
			}
		case <-pending:
			pending = nil
			s.Refresh()
		}
	}
}

// Refresh rebuilds every group endpoint from the current registry and
// group snapshot. Tool diffs notify connected clients; endpoints of
// removed groups are dropped. The reload pipeline calls this after group
// definitions change, registry events drive it otherwise.
func (s *Server) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.hub.GroupIDs()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for id := range s.groups {
		if !keep[id] {
			delete(s.groups, id)
			logging.Info("Hub", "Group %q removed from the frontend", id)
		}
	}
	for _, id := range ids {
		s.syncGroupLocked(id)
	}
	s.rebuildHealthLocked()
}

// syncGroupLocked reconciles one group endpoint against the hub's visible
// tool set for that group.
func (s *Server) syncGroupLocked(groupID string) {
	ep, ok := s.groups[groupID]
	if !ok {
		ep = s.newEndpoint()
		s.groups[groupID] = ep
	}

	desired := make(map[string]registry.Tool)
	for _, tool := range s.hub.ListTools(groupID) {
		if tool.Name == DiagnosticsTool {
			logging.Warn("Hub", "Tool %q from %s collides with the builtin diagnostics tool, skipping", tool.Name, tool.Origin.SourceID())
			continue
		}
		desired[tool.Name] = tool
	}

	var stale []string
	for name := range ep.active {
		if _, ok := desired[name]; !ok {
			stale = append(stale, name)
		}
	}
	var fresh []mcpsrv.ServerTool
	for name, tool := range desired {
		if prev, ok := ep.active[name]; !ok || !reflect.DeepEqual(prev, tool) {
			fresh = append(fresh, s.groupTool(groupID, tool))
		}
	}

	if len(stale) > 0 {
		sort.Strings(stale)
		ep.mcp.DeleteTools(stale...)
	}
	if len(fresh) > 0 {
		ep.mcp.AddTools(fresh...)
	}
	if len(stale) > 0 || len(fresh) > 0 {
		logging.Debug("Hub", "Group %q serves %d tool(s) (+%d/-%d)", groupID, len(desired), len(fresh), len(stale))
	}
	ep.active = desired
}

// newEndpoint builds a group MCP server carrying the builtin diagnostics
// tool.
func (s *Server) newEndpoint() *groupEndpoint {
	srv := newGroupMCPServer(s.opts.Version)
	srv.AddTools(s.diagnosticsTool())
	return &groupEndpoint{
		mcp:        srv,
		streamable: mcpsrv.NewStreamableHTTPServer(srv),
		active:     make(map[string]registry.Tool),
	}
}

func newGroupMCPServer(version string) *mcpsrv.MCPServer {
	return mcpsrv.NewMCPServer(
		"mcphub",
		version,
		mcpsrv.WithToolCapabilities(true),
		mcpsrv.WithRecovery(),
	)
}

// defaultEndpoint returns the default group endpoint, creating it when the
// first refresh has not run yet.
func (s *Server) defaultEndpoint() *groupEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.groups[group.DefaultGroup]
	if !ok {
		ep = s.newEndpoint()
		s.groups[group.DefaultGroup] = ep
	}
	return ep
}

// groupTool wraps one registry tool as an MCP server tool whose handler
// routes through the hub under the endpoint's group.
func (s *Server) groupTool(groupID string, tool registry.Tool) mcpsrv.ServerTool {
	name := tool.Name
	return mcpsrv.ServerTool{
		Tool: mcp.Tool{
			Name:        name,
			Description: tool.Description,
			InputSchema: toInputSchema(tool.InputSchema),
		},
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]interface{}{}
			if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
				args = m
			}
			result, err := s.hub.CallTool(ctx, name, args, groupID)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return result.ToMCP(), nil
		},
	}
}

// diagnosticsTool exposes Diagnostics() as a callable tool.
func (s *Server) diagnosticsTool() mcpsrv.ServerTool {
	return mcpsrv.ServerTool{
		Tool: mcp.Tool{
			Name:        DiagnosticsTool,
			Description: "Report hub status: backend server connections, groups, tools and the response cache.",
			InputSchema: mcp.ToolInputSchema{Type: "object"},
		},
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			payload, err := json.MarshalIndent(s.hub.Diagnostics(), "", "  ")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("diagnostics unavailable: %v", err)), nil
			}
			return mcp.NewToolResultText(string(payload)), nil
		},
	}
}

// serveMCP routes one streamable-http request to its group endpoint.
// Unknown groups get the shared empty endpoint, so they list no tools.
func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	groupID := requestGroup(r)

	s.mu.RLock()
	ep, ok := s.groups[groupID]
	unknown := s.unknown
	s.mu.RUnlock()

	if !ok {
		logging.Warn("Hub", "Request for unknown group %q, serving an empty tool surface", groupID)
		unknown.ServeHTTP(w, r)
		return
	}
	ep.streamable.ServeHTTP(w, r)
}

// requestGroup picks the group for one request: a /mcp/{group} path wins
// over the X-MCP-Group header; bare /mcp without a header means default.
func requestGroup(r *http.Request) string {
	if rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/mcp"), "/"); rest != "" {
		return rest
	}
	if g := r.Header.Get(GroupHeader); g != "" {
		return g
	}
	return group.DefaultGroup
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	handler := s.health
	s.mu.RUnlock()

	if handler == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	handler.ServeHTTP(w, r)
}

// rebuildHealthLocked rebuilds the /healthz checker: one check per backend
// server plus one for the response cache when configured. A server check
// fails whenever its connection is not in the connected state.
func (s *Server) rebuildHealthLocked() {
	states := s.hub.ServerStates()
	opts := make([]health.CheckerOption, 0, len(states)+2)
	opts = append(opts, health.WithCacheDuration(time.Second))

	for _, state := range states {
		id := state.ID
		opts = append(opts, health.WithCheck(health.Check{
			Name:    "server:" + id,
			Timeout: 5 * time.Second,
			Check: func(context.Context) error {
				for _, current := range s.hub.ServerStates() {
					if current.ID != id {
						continue
					}
					if current.Status == mcpserver.StatusConnected {
						return nil
					}
					return fmt.Errorf("server %s is %s", id, current.Status)
				}
				return fmt.Errorf("server %s is no longer managed", id)
			},
		}))
	}

	if _, ok := s.hub.CacheStats(); ok {
		opts = append(opts, health.WithCheck(health.Check{
			Name: "cache",
			Check: func(context.Context) error {
				if _, ok := s.hub.CacheStats(); !ok {
					return fmt.Errorf("response cache unavailable")
				}
				return nil
			},
		}))
	}

	s.health = health.NewHandler(health.NewChecker(opts...))
}

// toInputSchema rebuilds the wire schema from the registry's raw document.
// The required list appears as []string from discovery and []interface{}
// from decoded JSON config.
func toInputSchema(doc map[string]interface{}) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object"}
	if doc == nil {
		return schema
	}
	if t, ok := doc["type"].(string); ok && t != "" {
		schema.Type = t
	}
	if props, ok := doc["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	}
	switch required := doc["required"].(type) {
	case []string:
		schema.Required = append(schema.Required, required...)
	case []interface{}:
		for _, v := range required {
			if name, ok := v.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	return schema
}
