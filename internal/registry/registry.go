// Package registry holds the hub-wide tool registry: every tool the hub can
// route, whether discovered on a backend MCP server or synthesized by the
// API adapter, keyed by its unique name.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"mcphub/internal/errdefs"
	"mcphub/pkg/logging"
)

// AdapterSource is the synthetic source id groups use to include adapter
// tools, since those have no backend server id.
const AdapterSource = "api-tools"

// namePattern is the only shape tool names may take.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name satisfies the registry naming rule. Config
// validation uses it to reject tool definitions before registration.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// OriginKind tells where a tool executes.
type OriginKind string

const (
	OriginBackend OriginKind = "backend"
	OriginAdapter OriginKind = "adapter"
)

// Origin identifies the executor of a tool: a backend MCP server or an
// adapter tool config.
type Origin struct {
	Kind     OriginKind `json:"kind"`
	ServerID string     `json:"serverId,omitempty"`
	ToolID   string     `json:"toolId,omitempty"`
}

// BackendOrigin builds the origin for a server-discovered tool.
func BackendOrigin(serverID string) Origin {
	return Origin{Kind: OriginBackend, ServerID: serverID}
}

// AdapterOrigin builds the origin for an adapter-synthesized tool.
func AdapterOrigin(toolID string) Origin {
	return Origin{Kind: OriginAdapter, ToolID: toolID}
}

// SourceID is the id groups match against: the backend server id, or the
// synthetic adapter source for adapter tools.
func (o Origin) SourceID() string {
	if o.Kind == OriginAdapter {
		return AdapterSource
	}
	return o.ServerID
}

func (o Origin) String() string {
	if o.Kind == OriginAdapter {
		return fmt.Sprintf("adapter:%s", o.ToolID)
	}
	return fmt.Sprintf("backend:%s", o.ServerID)
}

// Tool is the uniform descriptor stored in the registry.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Origin      Origin                 `json:"origin"`
}

// EventType enumerates registry mutations.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
	EventCleared EventType = "cleared"
)

// Event describes one registry mutation. Tool is the zero value for cleared
// events.
type Event struct {
	Type EventType
	Tool Tool
}

// Observer receives registry events synchronously in mutation order.
type Observer func(Event)

// Registry is the thread-safe tool map. Mutations emit events to subscribed
// observers after the lock is released, so observers may call back into the
// registry.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	observers []Observer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds or replaces a tool. Names must be non-empty and match
// [A-Za-z0-9_-]+. Replacing an existing name emits an updated event,
// otherwise added.
func (r *Registry) Register(tool Tool) error {
	if !namePattern.MatchString(tool.Name) {
		return errdefs.New(errdefs.CodeSchemaViolation, errdefs.SeverityMedium, "invalid tool name").
			WithDetails("name %q must match [A-Za-z0-9_-]+", tool.Name)
	}

	r.mu.Lock()
	_, existed := r.tools[tool.Name]
	r.tools[tool.Name] = tool
	r.mu.Unlock()

	if existed {
		r.notify(Event{Type: EventUpdated, Tool: tool})
	} else {
		r.notify(Event{Type: EventAdded, Tool: tool})
	}
	return nil
}

// Unregister removes a tool by name, reporting whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	tool, existed := r.tools[name]
	if existed {
		delete(r.tools, name)
	}
	r.mu.Unlock()

	if existed {
		r.notify(Event{Type: EventRemoved, Tool: tool})
	}
	return existed
}

// UnregisterBySource removes every tool originating from sourceID and
// returns how many were removed. Used when a backend disconnects or the
// adapter reloads, preserving the name-unique invariant before new tools
// arrive.
func (r *Registry) UnregisterBySource(sourceID string) int {
	r.mu.Lock()
	var removed []Tool
	for name, tool := range r.tools {
		if tool.Origin.SourceID() == sourceID {
			removed = append(removed, tool)
			delete(r.tools, name)
		}
	}
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	for _, tool := range removed {
		r.notify(Event{Type: EventRemoved, Tool: tool})
	}
	return len(removed)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	return r.Filter(func(Tool) bool { return true })
}

// Filter returns the tools matching the predicate, sorted by name.
func (r *Registry) Filter(pred func(Tool) bool) []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if pred(tool) {
			out = append(out, tool)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes every tool and emits a single cleared event.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tools = make(map[string]Tool)
	r.mu.Unlock()

	r.notify(Event{Type: EventCleared})
}

// Subscribe adds an observer for subsequent events. Observers cannot be
// removed; subscribe once at wiring time.
func (r *Registry) Subscribe(observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// notify delivers one event to every observer. A panicking observer is
// logged and does not stop delivery to the others.
func (r *Registry) notify(event Event) {
	r.mu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	for _, observer := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("Registry", fmt.Errorf("%v", rec), "observer panicked handling %s event", event.Type)
				}
			}()
			observer(event)
		}()
	}
}
