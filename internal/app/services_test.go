package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/cache"
	"mcphub/internal/config"
	"mcphub/internal/group"
)

func TestInitializeServicesWiring(t *testing.T) {
	cfg := NewConfig(false, true, "")
	cfg.Version = "test"
	cfg.Snapshot = &config.Snapshot{Path: t.TempDir(), Hub: config.GetDefaultConfig().Hub}

	services, err := InitializeServices(cfg)
	require.NoError(t, err)
	defer services.Cache.Close()

	assert.NotNil(t, services.Registry)
	assert.NotNil(t, services.Tracer)
	assert.NotNil(t, services.Resolver)
	assert.NotNil(t, services.Manager)
	assert.NotNil(t, services.Adapter)
	assert.NotNil(t, services.Hub)
	assert.NotNil(t, services.Watcher)
	assert.Equal(t, "http://localhost:8090/mcp", services.Server.Endpoint())
}

func TestBuildCacheStore(t *testing.T) {
	memory := buildCacheStore(config.HubConfig{})
	defer memory.Close()
	_, ok := memory.(*cache.MemoryStore)
	assert.True(t, ok, "no redis configured means a bare memory tier")

	// Nothing listens on port 1; the tier probe must degrade, not fail.
	degraded := buildCacheStore(config.HubConfig{Redis: &config.RedisConfig{Addr: "127.0.0.1:1"}})
	defer degraded.Close()
	_, ok = degraded.(*cache.MemoryStore)
	assert.True(t, ok, "unreachable redis falls back to memory only")
}

func TestGroupDefinitions(t *testing.T) {
	snapshot := &config.Snapshot{
		Groups: map[string]config.GroupDefinition{
			"team": {Name: "Team", Servers: []string{"alpha"}, Tools: []string{"echo"}},
		},
	}

	groups := groupDefinitions(snapshot)
	require.Len(t, groups, 1)
	assert.Equal(t, group.Group{
		ID:      "team",
		Name:    "Team",
		Servers: []string{"alpha"},
		Tools:   []string{"echo"},
	}, groups["team"])
}

func TestReloadPipeline(t *testing.T) {
	dir := writeConfigDir(t)
	cfg := NewConfig(false, true, dir)

	application, err := NewApplication(cfg)
	require.NoError(t, err)
	services := application.services
	defer services.Cache.Close()

	// Initial apply, as the run loop would do it.
	services.Adapter.Apply(services.Snapshot.APITools)
	services.Resolver.Update(groupDefinitions(services.Snapshot), services.Snapshot.ServerIDs())
	require.True(t, services.Adapter.Has("get_weather"))

	// A corrupt document keeps the previous snapshot.
	writeFile(t, dir, "api-tools.json", "{not a document")
	Reload(context.Background(), services)
	assert.True(t, services.Adapter.Has("get_weather"))
	assert.Len(t, services.Snapshot.APITools.Tools, 1)

	// A valid edit swaps the tool set and the snapshot.
	writeFile(t, dir, "api-tools.json", `{"version":"1.0","tools":[]}`)
	Reload(context.Background(), services)
	assert.False(t, services.Adapter.Has("get_weather"))
	assert.Empty(t, services.Snapshot.APITools.Tools)
}
