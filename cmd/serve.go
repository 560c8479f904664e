package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcphub/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveSilent suppresses all log output.
var serveSilent bool

// serveConfigPath selects the configuration directory. Empty uses the
// per-user default directory.
var serveConfigPath string

// serveHost, servePort and serveTransport override the configured endpoint
// settings. Zero values keep what the configuration says.
var (
	serveHost      string
	servePort      int
	serveTransport string
)

// serveCmd is the main command of mcphub: it starts the hub process and
// serves the aggregated tool surface until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub and serve the aggregated MCP endpoint",
	Long: `Starts the hub: connects the configured backend MCP servers, compiles
the API tool definitions, and serves everything through one MCP endpoint.

The endpoint transport is streamable-http by default; sse and stdio are
available for clients that need them. On stdio all logging moves to
stderr because stdout carries the protocol stream.

Configuration is read from ~/.config/mcphub unless --config-path points
somewhere else. The directory may contain:
  - config.yaml       hub endpoint and cache settings
  - mcp_server.json   backend MCP server definitions
  - group.json        tool group definitions
  - api-tools.json    REST API tool definitions

Documents may also be written as .yaml or .yml. Edits to any of them are
picked up while the hub runs; changes to the endpoint settings themselves
require a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigPath)
	cfg.Host = serveHost
	cfg.Port = servePort
	cfg.Transport = serveTransport
	cfg.Version = rootCmd.Version

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Configuration directory (default: ~/.config/mcphub)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host, overrides the configured value")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Endpoint port, overrides the configured value")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Endpoint transport: streamable-http, sse or stdio")
}
