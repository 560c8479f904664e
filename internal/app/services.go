package app

import (
	"context"
	"time"

	"mcphub/internal/apitool"
	"mcphub/internal/cache"
	"mcphub/internal/config"
	"mcphub/internal/group"
	"mcphub/internal/hub"
	"mcphub/internal/mcpserver"
	"mcphub/internal/registry"
	"mcphub/internal/trace"
	"mcphub/pkg/logging"
)

// Services holds every long-lived component of the hub process. The run
// loop starts them, the reload pipeline mutates them, and shutdown tears
// them down in reverse construction order.
type Services struct {
	// Registry is the hub-wide tool registry every source publishes into.
	Registry *registry.Registry

	// Tracer records backend message traffic for diagnostics.
	Tracer *trace.Tracer

	// Resolver answers group visibility questions against the registry.
	Resolver *group.Resolver

	// Manager owns the connections to the backend MCP servers.
	Manager *mcpserver.Manager

	// Adapter compiles API tool definitions and serves their calls.
	Adapter *apitool.Adapter

	// Cache stores adapter responses. Owned here, not by the adapter.
	Cache cache.Store

	// Hub routes tool calls and aggregates diagnostics.
	Hub *hub.Hub

	// Server exposes the hub over the configured MCP transport.
	Server *hub.Server

	// Watcher reports configuration document changes on disk.
	Watcher *config.Watcher

	// Snapshot is the configuration currently applied. The reload pipeline
	// swaps it after a successful reload.
	Snapshot *config.Snapshot
}

// InitializeServices builds all components from the loaded configuration.
// Nothing is started here: no listener is opened and no backend connection
// is attempted, so construction is side-effect free apart from the cache
// tier probe.
func InitializeServices(cfg *Config) (*Services, error) {
	snapshot := cfg.Snapshot

	reg := registry.New()

	capacity := snapshot.Hub.TraceCapacity
	if capacity <= 0 {
		capacity = trace.DefaultCapacity
	}
	tracer := trace.NewTracer(capacity)

	resolver := group.NewResolver(reg)

	store := buildCacheStore(snapshot.Hub)
	adapter := apitool.New(reg, apitool.Options{Cache: store})

	manager := mcpserver.NewManager(reg, tracer, mcpserver.Options{})

	h := hub.New(reg, resolver, manager, adapter, tracer)
	server := hub.NewServer(h, reg, hub.ServerOptions{
		Host:      snapshot.Hub.Host,
		Port:      snapshot.Hub.Port,
		Transport: snapshot.Hub.Transport,
		Version:   cfg.Version,
	})

	watcher := config.NewWatcher(snapshot.Path, 0)

	return &Services{
		Registry: reg,
		Tracer:   tracer,
		Resolver: resolver,
		Manager:  manager,
		Adapter:  adapter,
		Cache:    store,
		Hub:      h,
		Server:   server,
		Watcher:  watcher,
		Snapshot: snapshot,
	}, nil
}

// buildCacheStore assembles the response cache: always a memory tier, with
// a redis second tier when configured. An unreachable redis degrades to
// memory-only instead of failing the start.
func buildCacheStore(hubCfg config.HubConfig) cache.Store {
	memory := cache.NewMemoryStore(0, 0)
	if hubCfg.Redis == nil {
		return memory
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remote, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:     hubCfg.Redis.Addr,
		Password: hubCfg.Redis.Password,
		DB:       hubCfg.Redis.DB,
		Prefix:   hubCfg.Redis.Prefix,
	})
	if err != nil {
		logging.Warn("Bootstrap", "Redis cache tier at %s unavailable, continuing with memory only: %v", hubCfg.Redis.Addr, err)
		return memory
	}

	logging.Info("Bootstrap", "Response cache backed by redis at %s", hubCfg.Redis.Addr)
	return cache.NewTiered(memory, remote)
}

// groupDefinitions converts the configured group documents into resolver
// groups, keyed by id.
func groupDefinitions(snapshot *config.Snapshot) map[string]group.Group {
	groups := make(map[string]group.Group, len(snapshot.Groups))
	for id, def := range snapshot.Groups {
		groups[id] = group.Group{
			ID:      id,
			Name:    def.Name,
			Servers: def.Servers,
			Tools:   def.Tools,
		}
	}
	return groups
}
