package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"mcphub/internal/config"
	"mcphub/internal/formatting"
)

func inspectionSnapshot() *config.Snapshot {
	enabled := false
	return &config.Snapshot{
		Path: "/tmp/mcphub-test",
		Servers: map[string]config.ServerDefinition{
			"alpha": {Type: config.TransportStreamableHTTP, URL: "http://127.0.0.1:9999/mcp"},
			"beta":  {Type: config.TransportStdio, Command: "npx", Args: []string{"-y", "some-server"}, Enabled: &enabled},
		},
		Groups: map[string]config.GroupDefinition{
			"team": {Name: "Team", Servers: []string{"alpha"}, Tools: []string{"echo"}},
		},
		APITools: config.APIToolsDocument{
			Version: config.APIToolsVersion,
			Tools: []config.APIToolDefinition{
				{
					ID:          "weather",
					Name:        "get_weather",
					Description: "Current weather for a city",
					API:         config.APISpec{URL: "http://api.example.com/v1", Method: "GET"},
					Cache:       &config.CacheSpec{Enabled: true},
				},
			},
		},
	}
}

func renderListing(t *testing.T, format formatting.Format, listing formatting.Listing) string {
	t.Helper()
	var buf bytes.Buffer
	if err := formatting.NewRenderer(format).Render(&buf, listing); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

func TestServerListingTable(t *testing.T) {
	out := renderListing(t, formatting.FormatTable, serverListing(inspectionSnapshot()))

	for _, want := range []string{"alpha", "beta", "http://127.0.0.1:9999/mcp", "npx -y some-server", "false"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected server table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestServerListingJSON(t *testing.T) {
	out := renderListing(t, formatting.FormatJSON, serverListing(inspectionSnapshot()))

	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 servers, got %d", len(items))
	}
	if items[0]["id"] != "alpha" || items[1]["id"] != "beta" {
		t.Errorf("Expected sorted server ids, got %v", items)
	}
	if items[1]["enabled"] != false {
		t.Errorf("Expected beta to be disabled, got %v", items[1])
	}
}

func TestServerListingEmpty(t *testing.T) {
	out := renderListing(t, formatting.FormatTable, serverListing(&config.Snapshot{}))

	if !strings.Contains(out, "No backend servers configured") {
		t.Errorf("Expected empty message, got %q", out)
	}
}

func TestGroupListingTable(t *testing.T) {
	out := renderListing(t, formatting.FormatTable, groupListing(inspectionSnapshot()))

	for _, want := range []string{"team", "Team", "alpha", "echo"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected group table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestGroupListingEmptyMentionsDefault(t *testing.T) {
	out := renderListing(t, formatting.FormatTable, groupListing(&config.Snapshot{}))

	if !strings.Contains(out, "default group") {
		t.Errorf("Expected a hint about the default group, got %q", out)
	}
}

func TestToolListingTable(t *testing.T) {
	out := renderListing(t, formatting.FormatTable, toolListing(inspectionSnapshot()))

	for _, want := range []string{"get_weather", "weather", "GET", "http://api.example.com/v1", "Current weather", "on"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected tool table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestToolListingYAML(t *testing.T) {
	out := renderListing(t, formatting.FormatYAML, toolListing(inspectionSnapshot()))

	for _, want := range []string{"name: get_weather", "id: weather", "cached: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected tool YAML to contain %q, got:\n%s", want, out)
		}
	}
}

func TestServerTarget(t *testing.T) {
	stdio := config.ServerDefinition{Type: config.TransportStdio, Command: "uvx", Args: []string{"server"}}
	if got := serverTarget(stdio); got != "uvx server" {
		t.Errorf("Expected 'uvx server', got %q", got)
	}

	remote := config.ServerDefinition{Type: config.TransportSSE, URL: "http://h:1/sse"}
	if got := serverTarget(remote); got != "http://h:1/sse" {
		t.Errorf("Expected URL target, got %q", got)
	}
}
