package hub

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/cache"
	"mcphub/internal/errdefs"
	"mcphub/internal/group"
	"mcphub/internal/mcpserver"
	"mcphub/internal/registry"
	"mcphub/internal/trace"
	"mcphub/pkg/logging"
)

// BackendDispatcher routes calls to managed backend connections.
// *mcpserver.Manager satisfies it.
type BackendDispatcher interface {
	Dispatch(ctx context.Context, serverID, tool string, args map[string]interface{}) (*mcp.CallToolResult, error)
	States() []mcpserver.ConnectionInfo
	ConnectedCount() int
}

// AdapterExecutor runs synthetic API tools. *apitool.Adapter satisfies it.
type AdapterExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	CacheStats() (cache.Stats, bool)
}

// Hub routes tool listings and calls through the group resolver to the
// owning source. All collaborators are injected; Hub holds no globals.
type Hub struct {
	registry *registry.Registry
	resolver *group.Resolver
	backends BackendDispatcher
	adapter  AdapterExecutor
	tracer   *trace.Tracer
}

// New wires the hub service.
func New(reg *registry.Registry, resolver *group.Resolver, backends BackendDispatcher, adapter AdapterExecutor, tracer *trace.Tracer) *Hub {
	return &Hub{
		registry: reg,
		resolver: resolver,
		backends: backends,
		adapter:  adapter,
		tracer:   tracer,
	}
}

// ListTools returns the tools visible in groupID, sorted by name. An empty
// groupID means the default group; an unknown group yields an empty list.
func (h *Hub) ListTools(groupID string) []registry.Tool {
	if _, ok := h.resolver.Lookup(groupID); !ok {
		logging.Warn("Hub", "tool listing for unknown group %q, returning none", groupID)
		return nil
	}
	return h.resolver.VisibleTools(groupID)
}

// CallTool routes one invocation. The group gates visibility; the tool's
// origin picks the executor. Errors carry taxonomy codes.
func (h *Hub) CallTool(ctx context.Context, toolName string, args map[string]interface{}, groupID string) (ToolResult, error) {
	g, ok := h.resolver.Lookup(groupID)
	if !ok {
		return ToolResult{}, errdefs.NewGroupNotFound(groupID)
	}
	if !h.resolver.CanCall(g.ID, toolName) {
		return ToolResult{}, errdefs.NewToolNotFound(toolName, g.ID)
	}
	tool, ok := h.registry.Get(toolName)
	if !ok {
		// Visible a moment ago; the owning source vanished in between.
		return ToolResult{}, errdefs.NewToolNotFound(toolName, g.ID)
	}

	var (
		result *mcp.CallToolResult
		err    error
	)
	switch tool.Origin.Kind {
	case registry.OriginBackend:
		result, err = h.backends.Dispatch(ctx, tool.Origin.ServerID, toolName, args)
	case registry.OriginAdapter:
		result, err = h.adapter.Execute(ctx, toolName, args)
	default:
		return ToolResult{}, errdefs.NewInternal(nil, "tool "+toolName+" has no routable origin")
	}
	if err != nil {
		return ToolResult{}, errdefs.Classify(err)
	}
	return FromMCP(result), nil
}

// ServerDiagnostics summarizes the backend connections.
type ServerDiagnostics struct {
	Total     int                        `json:"total"`
	Connected int                        `json:"connected"`
	Details   []mcpserver.ConnectionInfo `json:"details"`
}

// GroupDiagnostics summarizes the configured groups.
type GroupDiagnostics struct {
	Count int `json:"count"`
}

// ToolDiagnostics summarizes the aggregated tool surface.
type ToolDiagnostics struct {
	Total int `json:"total"`
}

// Diagnostics is the aggregated status document served by the builtin
// diagnostics tool and the admin surface. Cache is nil when no response
// cache is configured.
type Diagnostics struct {
	Servers ServerDiagnostics `json:"servers"`
	Groups  GroupDiagnostics  `json:"groups"`
	Tools   ToolDiagnostics   `json:"tools"`
	Cache   *cache.Stats      `json:"cache,omitempty"`
}

// Diagnostics returns the current aggregated status.
func (h *Hub) Diagnostics() Diagnostics {
	details := h.backends.States()
	diag := Diagnostics{
		Servers: ServerDiagnostics{
			Total:     len(details),
			Connected: h.backends.ConnectedCount(),
			Details:   details,
		},
		Groups: GroupDiagnostics{Count: h.resolver.Count()},
		Tools:  ToolDiagnostics{Total: h.registry.Len()},
	}
	if stats, ok := h.adapter.CacheStats(); ok {
		diag.Cache = &stats
	}
	return diag
}

// Traces returns recorded MCP traffic, oldest first. An empty serverID
// spans every server, an empty typ matches every record type.
func (h *Hub) Traces(serverID string, typ trace.RecordType, limit int) []trace.Record {
	return h.tracer.Query(serverID, typ, limit)
}

// ServerStates exposes the lifecycle snapshots, sorted by server id.
func (h *Hub) ServerStates() []mcpserver.ConnectionInfo {
	return h.backends.States()
}

// CacheStats exposes the adapter response cache statistics, false when no
// cache is configured.
func (h *Hub) CacheStats() (cache.Stats, bool) {
	return h.adapter.CacheStats()
}

// GroupIDs returns every servable group id: the configured groups plus the
// always-present default, sorted.
func (h *Hub) GroupIDs() []string {
	ids := []string{group.DefaultGroup}
	for _, g := range h.resolver.Groups() {
		if g.ID != group.DefaultGroup {
			ids = append(ids, g.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
