package config

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"mcphub/pkg/logging"
)

// Document base names. Each is looked up with the extensions below, .json
// first so a stray editor backup in YAML never shadows the canonical file.
const (
	serversDocument  = "mcp_server"
	groupsDocument   = "group"
	apiToolsDocument = "api-tools"
)

var documentExtensions = []string{".json", ".yaml", ".yml"}

// findDocument returns the path of the first existing variant of a document
// base name, or "" when none exists.
func findDocument(configPath, base string) string {
	for _, ext := range documentExtensions {
		candidate := filepath.Join(configPath, base+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// readDocument decodes one document into out. YAML input is converted to
// JSON first, so the json field names apply to both encodings.
func readDocument(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading document %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error parsing document %s: %w", path, err)
	}
	return nil
}

// loadServers loads mcp_server.json. A missing document means no backends.
func loadServers(configPath string) (map[string]ServerDefinition, error) {
	path := findDocument(configPath, serversDocument)
	if path == "" {
		logging.Info("Config", "No mcp_server document in %s, no backend servers configured", configPath)
		return map[string]ServerDefinition{}, nil
	}

	var doc ServersDocument
	if err := readDocument(path, &doc); err != nil {
		return nil, err
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]ServerDefinition{}
	}
	logging.Info("Config", "Loaded %d server definition(s) from %s", len(doc.MCPServers), path)
	return doc.MCPServers, nil
}

// loadGroups loads group.json and normalizes each definition's id from its
// document key.
func loadGroups(configPath string) (map[string]GroupDefinition, error) {
	path := findDocument(configPath, groupsDocument)
	if path == "" {
		logging.Debug("Config", "No group document in %s, only the implicit default group is available", configPath)
		return map[string]GroupDefinition{}, nil
	}

	groups := map[string]GroupDefinition{}
	if err := readDocument(path, &groups); err != nil {
		return nil, err
	}
	for key, def := range groups {
		if def.ID == "" {
			def.ID = key
			groups[key] = def
		}
	}
	logging.Info("Config", "Loaded %d group(s) from %s", len(groups), path)
	return groups, nil
}

// loadAPITools loads api-tools.json. A missing document disables the
// adapter.
func loadAPITools(configPath string) (APIToolsDocument, error) {
	path := findDocument(configPath, apiToolsDocument)
	if path == "" {
		logging.Debug("Config", "No api-tools document in %s, adapter disabled", configPath)
		return APIToolsDocument{Version: APIToolsVersion}, nil
	}

	var doc APIToolsDocument
	if err := readDocument(path, &doc); err != nil {
		return APIToolsDocument{}, err
	}
	logging.Info("Config", "Loaded %d API tool definition(s) from %s", len(doc.Tools), path)
	return doc, nil
}
