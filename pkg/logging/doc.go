// Package logging provides the structured logging system used across mcphub.
//
// It is a thin wrapper over Go's standard slog package that adds a subsystem
// identifier to every entry and exposes printf-style helpers so call sites
// stay compact.
//
// # Usage
//
//	import "mcphub/pkg/logging"
//
//	// Initialize once at startup.
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bootstrap", "hub starting up")
//	logging.Debug("Config", "loaded configuration from %s", configPath)
//	logging.Warn("Lifecycle", "server %s not available", id)
//	logging.Error("APITool", err, "request to %s failed", url)
//
// # Subsystem Organization
//
// Logs are categorized by subsystem so they can be filtered downstream:
//
//   - Bootstrap: application initialization and startup
//   - Config: configuration loading, validation, and reload
//   - Registry: tool registration and events
//   - Lifecycle: backend server connections and reconnects
//   - Hub: tool listing and call routing
//   - APITool: adapter tool execution
//   - Cache: response cache operations
//
// Level filtering happens at the handler, so filtered-out messages cost no
// allocation.
package logging
