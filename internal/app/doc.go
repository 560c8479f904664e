// Package app bootstraps and runs the hub process.
//
// It is the construction root: every long-lived component is created here,
// wired together, and torn down in reverse order on shutdown. The package
// has three parts:
//
//  1. Bootstrap (bootstrap.go): logging setup, .env loading, configuration
//     loading and validation, flag overrides.
//  2. Services (services.go): builds the registry, tracer, group resolver,
//     response cache, API tool adapter, backend connection manager and the
//     MCP frontend, in dependency order.
//  3. Run loop (run.go): applies the initial configuration, starts the
//     frontend, reacts to configuration changes on disk, and blocks until
//     SIGINT/SIGTERM or context cancellation.
//
// # Startup Sequence
//
//	cfg := app.NewConfig(debug, silent, configPath)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// NewApplication fails fast on unreadable or invalid configuration; a hub
// with no backend servers and no API tools is valid and starts with an
// empty tool surface.
//
// # Configuration Reload
//
// A filesystem watcher picks up edits to the configuration documents and
// replays them through the same pipeline as startup: adapter tools are
// re-applied, group definitions swapped, backend connections diffed, and
// the frontend refreshed. A reload that fails validation is rejected and
// the previous snapshot stays active. Changes to the hub endpoint itself
// (host, port, transport) require a restart and are logged as such.
package app
