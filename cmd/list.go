package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mcphub/internal/config"
	"mcphub/internal/formatting"
	"mcphub/pkg/logging"
	pkgstrings "mcphub/pkg/strings"
)

var (
	listConfigPath   string
	listOutputFormat string
)

// listResourceTypes are the resources the list command understands.
var listResourceTypes = []string{"servers", "groups", "tools"}

// listCmd inspects the configuration without starting the hub. It shows
// what is configured, not what is currently connected; backend tool
// discovery only happens in a running hub.
var listCmd = &cobra.Command{
	Use:   "list servers|groups|tools",
	Short: "List configured backend servers, groups or API tools",
	Long: `Lists one kind of configured resource.

  servers - backend MCP server definitions
  groups  - tool group definitions
  tools   - API tool definitions served by the adapter

The command reads the configuration directory directly and works without
a running hub. Output defaults to a table; --output json or --output yaml
emit the structured form.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: listResourceTypes,
	RunE:      runList,
}

func runList(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	format, err := formatting.ParseFormat(listOutputFormat)
	if err != nil {
		return err
	}

	snapshot, err := loadSnapshotForInspection(listConfigPath)
	if err != nil {
		return err
	}

	var listing formatting.Listing
	switch args[0] {
	case "servers":
		listing = serverListing(snapshot)
	case "groups":
		listing = groupListing(snapshot)
	case "tools":
		listing = toolListing(snapshot)
	default:
		return fmt.Errorf("unknown resource %q (valid: %s)", args[0], strings.Join(listResourceTypes, ", "))
	}

	return formatting.NewRenderer(format).Render(cmd.OutOrStdout(), listing)
}

// loadSnapshotForInspection loads the configuration the same way serve
// does, shared by the list and check commands.
func loadSnapshotForInspection(configPath string) (*config.Snapshot, error) {
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	snapshot, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	return snapshot, nil
}

type serverItem struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Target  string `json:"target" yaml:"target"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

func serverListing(snapshot *config.Snapshot) formatting.Listing {
	items := make([]serverItem, 0, len(snapshot.Servers))
	rows := make([][]string, 0, len(snapshot.Servers))
	for _, id := range sortedIDs(snapshot.Servers) {
		def := snapshot.Servers[id]
		item := serverItem{ID: id, Type: def.Type, Target: serverTarget(def), Enabled: def.IsEnabled()}
		items = append(items, item)
		rows = append(rows, []string{item.ID, item.Type, item.Target, strconv.FormatBool(item.Enabled)})
	}
	return formatting.Listing{
		Header: []string{"ID", "TYPE", "TARGET", "ENABLED"},
		Rows:   rows,
		Items:  items,
		Empty:  "No backend servers configured",
	}
}

// serverTarget is the column describing where a server runs: the command
// line for stdio servers, the URL for remote ones.
func serverTarget(def config.ServerDefinition) string {
	if def.Type == config.TransportStdio {
		return strings.TrimSpace(def.Command + " " + strings.Join(def.Args, " "))
	}
	return def.URL
}

type groupItem struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Servers []string `json:"servers" yaml:"servers"`
	Tools   []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

func groupListing(snapshot *config.Snapshot) formatting.Listing {
	items := make([]groupItem, 0, len(snapshot.Groups))
	rows := make([][]string, 0, len(snapshot.Groups))
	for _, id := range sortedIDs(snapshot.Groups) {
		def := snapshot.Groups[id]
		item := groupItem{ID: id, Name: def.Name, Servers: def.Servers, Tools: def.Tools}
		items = append(items, item)

		tools := "all"
		if len(item.Tools) > 0 {
			tools = strings.Join(item.Tools, ", ")
		}
		rows = append(rows, []string{item.ID, item.Name, strings.Join(item.Servers, ", "), tools})
	}
	return formatting.Listing{
		Header: []string{"ID", "NAME", "SERVERS", "TOOLS"},
		Rows:   rows,
		Items:  items,
		Empty:  "No groups configured; every client sees the default group spanning all tools",
	}
}

type toolItem struct {
	Name        string `json:"name" yaml:"name"`
	ID          string `json:"id" yaml:"id"`
	Method      string `json:"method" yaml:"method"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Cached      bool   `json:"cached" yaml:"cached"`
}

func toolListing(snapshot *config.Snapshot) formatting.Listing {
	items := make([]toolItem, 0, len(snapshot.APITools.Tools))
	rows := make([][]string, 0, len(snapshot.APITools.Tools))
	for _, tool := range snapshot.APITools.Tools {
		item := toolItem{
			Name:        tool.Name,
			ID:          tool.ID,
			Method:      tool.API.Method,
			URL:         tool.API.URL,
			Description: tool.Description,
			Cached:      tool.Cache != nil && tool.Cache.Enabled,
		}
		items = append(items, item)

		cached := "-"
		if item.Cached {
			cached = "on"
		}
		description := pkgstrings.TruncateDescription(item.Description, pkgstrings.DefaultDescriptionMaxLen)
		rows = append(rows, []string{item.Name, item.ID, item.Method, item.URL, description, cached})
	}
	return formatting.Listing{
		Header: []string{"NAME", "ID", "METHOD", "URL", "DESCRIPTION", "CACHE"},
		Rows:   rows,
		Items:  items,
		Empty:  "No API tools configured",
	}
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listConfigPath, "config-path", "", "Configuration directory (default: ~/.config/mcphub)")
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
}
