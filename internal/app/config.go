package app

import (
	"mcphub/internal/config"
)

// Config holds the application configuration assembled from CLI flags.
type Config struct {
	// Debug enables verbose logging across the application.
	Debug bool

	// Silent suppresses all log output.
	Silent bool

	// ConfigPath is the configuration directory. Empty selects the
	// per-user default directory.
	ConfigPath string

	// Host, Port and Transport override the loaded hub configuration when
	// set. Zero values keep the configured values.
	Host      string
	Port      int
	Transport string

	// Version is the build version reported to MCP clients.
	Version string

	// Snapshot is the loaded configuration, populated during bootstrap.
	Snapshot *config.Snapshot
}

// NewConfig creates a new application configuration. Flag overrides for the
// endpoint are set on the returned struct directly.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
