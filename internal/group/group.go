// Package group implements tool visibility: named groups scope which
// backend servers and adapter tools a caller can list and invoke.
package group

import (
	"sort"
	"sync"

	"mcphub/internal/registry"
	"mcphub/pkg/logging"
)

// DefaultGroup is the group used when a caller does not name one. It does
// not need to be configured; absent a definition it spans every source.
const DefaultGroup = "default"

// Group is one declarative visibility policy. An empty Tools list exposes
// every tool of the listed servers; a non-empty list is an allow-list
// intersected with that set.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Servers []string `json:"servers"`
	Tools   []string `json:"tools,omitempty"`
}

// ReferenceWarning reports a group referencing source ids that are not
// configured. The group stays usable with the unknown ids excluded.
type ReferenceWarning struct {
	GroupID        string
	UnknownServers []string
}

// Resolver answers visibility questions against the current registry
// snapshot. Group definitions and the known source set are swapped
// atomically on config reload.
type Resolver struct {
	mu     sync.RWMutex
	groups map[string]Group
	known  map[string]bool

	registry *registry.Registry
}

// NewResolver creates a resolver over the registry. Call Update to install
// group definitions.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{
		groups:   make(map[string]Group),
		known:    map[string]bool{registry.AdapterSource: true},
		registry: reg,
	}
}

// Update swaps in a new set of group definitions and configured server ids.
// Reference warnings for the new snapshot are logged and returned.
func (r *Resolver) Update(groups map[string]Group, serverIDs []string) []ReferenceWarning {
	known := map[string]bool{registry.AdapterSource: true}
	for _, id := range serverIDs {
		known[id] = true
	}

	r.mu.Lock()
	r.groups = groups
	r.known = known
	r.mu.Unlock()

	warnings := r.ValidateReferences()
	for _, w := range warnings {
		logging.Warn("Group", "group %q references unknown servers %v; they are excluded", w.GroupID, w.UnknownServers)
	}
	return warnings
}

// Lookup returns the definition of a group. The default group resolves even
// without a definition.
func (r *Resolver) Lookup(groupID string) (Group, bool) {
	if groupID == "" {
		groupID = DefaultGroup
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if g, ok := r.groups[groupID]; ok {
		return g, true
	}
	if groupID == DefaultGroup {
		return r.implicitDefaultLocked(), true
	}
	return Group{}, false
}

// implicitDefaultLocked builds the catch-all default group spanning every
// known source. Callers hold at least the read lock.
func (r *Resolver) implicitDefaultLocked() Group {
	servers := make([]string, 0, len(r.known))
	for id := range r.known {
		servers = append(servers, id)
	}
	sort.Strings(servers)
	return Group{ID: DefaultGroup, Servers: servers}
}

// VisibleTools returns the tools a group exposes, sorted by name. An empty
// groupID means the default group; an unknown group exposes nothing.
func (r *Resolver) VisibleTools(groupID string) []registry.Tool {
	g, ok := r.Lookup(groupID)
	if !ok {
		return nil
	}

	r.mu.RLock()
	sources := make(map[string]bool, len(g.Servers))
	for _, id := range g.Servers {
		// Unknown references degrade the group instead of failing it.
		if r.known[id] {
			sources[id] = true
		}
	}
	r.mu.RUnlock()

	tools := r.registry.Filter(func(tool registry.Tool) bool {
		return sources[tool.Origin.SourceID()]
	})

	if len(g.Tools) == 0 {
		return tools
	}

	allowed := make(map[string]bool, len(g.Tools))
	for _, name := range g.Tools {
		allowed[name] = true
	}
	filtered := tools[:0]
	for _, tool := range tools {
		if allowed[tool.Name] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// CanCall reports whether toolName is visible in the group.
func (r *Resolver) CanCall(groupID, toolName string) bool {
	for _, tool := range r.VisibleTools(groupID) {
		if tool.Name == toolName {
			return true
		}
	}
	return false
}

// ValidateReferences reports every group referencing unconfigured source
// ids, sorted by group id.
func (r *Resolver) ValidateReferences() []ReferenceWarning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var warnings []ReferenceWarning
	for id, g := range r.groups {
		var unknown []string
		for _, serverID := range g.Servers {
			if !r.known[serverID] {
				unknown = append(unknown, serverID)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			warnings = append(warnings, ReferenceWarning{GroupID: id, UnknownServers: unknown})
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].GroupID < warnings[j].GroupID })
	return warnings
}

// Groups returns the configured definitions sorted by id.
func (r *Resolver) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of configured groups.
func (r *Resolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
