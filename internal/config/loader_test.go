package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDocument is a helper to place a raw document in a temp config dir.
func writeDocument(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_EmptyDirectoryUsesDefaults(t *testing.T) {
	snap, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, snap.Hub.Host)
	assert.Equal(t, DefaultPort, snap.Hub.Port)
	assert.Equal(t, TransportStreamableHTTP, snap.Hub.Transport)
	assert.Equal(t, DefaultTraceCapacity, snap.Hub.TraceCapacity)
	assert.Empty(t, snap.Servers)
	assert.Empty(t, snap.Groups)
	assert.Empty(t, snap.APITools.Tools)
}

func TestLoad_PartialHubConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "config.yaml", "hub:\n  port: 9000\n")

	snap, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, snap.Hub.Port)
	assert.Equal(t, DefaultHost, snap.Hub.Host, "omitted fields keep defaults")
	assert.Equal(t, TransportStreamableHTTP, snap.Hub.Transport)
}

func TestLoad_ServersJSON(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "mcp_server.json", `{
  "mcpServers": {
    "kubernetes": {"type": "stdio", "command": "mcp-kubernetes", "args": ["--in-cluster"], "env": {"KUBECONFIG": "/tmp/kc"}},
    "remote": {"type": "sse", "url": "http://localhost:9100/sse", "enabled": false}
  }
}`)

	snap, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, snap.Servers, 2)

	k8s := snap.Servers["kubernetes"]
	assert.Equal(t, TransportStdio, k8s.Type)
	assert.Equal(t, "mcp-kubernetes", k8s.Command)
	assert.Equal(t, []string{"--in-cluster"}, k8s.Args)
	assert.Equal(t, "/tmp/kc", k8s.Env["KUBECONFIG"])
	assert.True(t, k8s.IsEnabled(), "absent enabled flag means enabled")

	remote := snap.Servers["remote"]
	assert.Equal(t, TransportSSE, remote.Type)
	assert.False(t, remote.IsEnabled())

	enabled := snap.EnabledServers()
	assert.Len(t, enabled, 1)
	assert.Contains(t, enabled, "kubernetes")
}

func TestLoad_ServersYAML(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "mcp_server.yaml", `
mcpServers:
  local:
    type: stdio
    command: echo
`)

	snap, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, snap.Servers, 1)
	assert.Equal(t, "echo", snap.Servers["local"].Command)
}

func TestLoad_JSONPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "mcp_server.json", `{"mcpServers": {"fromjson": {"type": "stdio", "command": "a"}}}`)
	writeDocument(t, dir, "mcp_server.yaml", "mcpServers:\n  fromyaml:\n    type: stdio\n    command: b\n")

	snap, err := Load(dir)
	require.NoError(t, err)
	assert.Contains(t, snap.Servers, "fromjson")
	assert.NotContains(t, snap.Servers, "fromyaml")
}

func TestLoad_GroupsNormalizeID(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "group.json", `{
  "platform": {"name": "Platform tools", "servers": ["kubernetes"]},
  "explicit": {"id": "explicit", "servers": ["remote"], "tools": ["one"]}
}`)

	snap, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, snap.Groups, 2)

	assert.Equal(t, "platform", snap.Groups["platform"].ID, "missing id filled from key")
	assert.Equal(t, "explicit", snap.Groups["explicit"].ID)
	assert.Equal(t, []string{"one"}, snap.Groups["explicit"].Tools)
}

func TestLoad_APITools(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "api-tools.json", `{
  "version": "1.0",
  "tools": [{
    "id": "weather",
    "name": "get_weather",
    "description": "Current weather by city",
    "api": {"url": "https://api.example.com/weather?q={{data.city}}", "method": "GET", "timeout": 5000, "retries": 2},
    "parameters": {"type": "object", "properties": {"city": {"type": "string"}}, "required": ["city"]},
    "response": {"jsonata": "$.current", "errorPath": "error.message"},
    "security": {"authentication": {"type": "bearer", "token": "{{env.WEATHER_TOKEN}}"}},
    "cache": {"enabled": true, "ttl": 300, "maxSize": 100}
  }]
}`)

	snap, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, snap.APITools.Tools, 1)

	tool := snap.APITools.Tools[0]
	assert.Equal(t, "weather", tool.ID)
	assert.Equal(t, "get_weather", tool.Name)
	assert.Equal(t, "GET", tool.API.Method)
	assert.Equal(t, 5*time.Second, tool.API.RequestTimeout())
	assert.Equal(t, 2, tool.API.RetryCount())
	assert.Equal(t, "$.current", tool.Response.JSONata)
	assert.Equal(t, "bearer", tool.Security.Authentication.Type)
	assert.True(t, tool.Cache.Enabled)
	assert.Equal(t, 300, tool.Cache.TTL)
}

func TestLoad_MalformedDocumentFails(t *testing.T) {
	dir := t.TempDir()
	writeDocument(t, dir, "mcp_server.json", `{"mcpServers": {`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp_server.json")
}

func TestAPISpec_Defaults(t *testing.T) {
	var spec APISpec
	assert.Equal(t, 30*time.Second, spec.RequestTimeout(), "default timeout is 30s")
	assert.Equal(t, 3, spec.RetryCount(), "default retry count is 3")

	zero := 0
	spec.Retries = &zero
	assert.Equal(t, 0, spec.RetryCount(), "explicit zero disables retries")
}
