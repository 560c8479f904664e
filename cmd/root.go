package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcphub application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Serve MCP servers and REST APIs behind one MCP endpoint",
	Long: `mcphub connects to backend MCP servers over stdio, sse or
streamable-http, turns declarative REST API definitions into MCP tools,
and serves the combined tool surface through a single MCP endpoint with
group scoped visibility.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It is called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
