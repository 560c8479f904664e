package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

// shutdownTimeout bounds the whole teardown: frontend drain plus backend
// connection close.
const shutdownTimeout = 15 * time.Second

// runHub applies the initial configuration, starts the frontend and blocks
// until SIGINT/SIGTERM or context cancellation.
func runHub(ctx context.Context, services *Services) error {
	snapshot := services.Snapshot

	// Adapter tools first, so they are visible the moment the frontend
	// accepts its first request.
	if names := services.Adapter.Apply(snapshot.APITools); len(names) > 0 {
		logging.Info("Hub", "Registered %d API tool(s)", len(names))
	}

	services.Resolver.Update(groupDefinitions(snapshot), snapshot.ServerIDs())

	summary := services.Manager.Initialize(ctx, snapshot.EnabledServers())
	logging.Info("Hub", "Backend servers: %d connected, %d failed", len(summary.Connected), len(summary.Failed))
	for _, id := range summary.Failed {
		logging.Warn("Hub", "Server %s failed to connect and keeps retrying in the background", id)
	}

	if err := services.Server.Start(ctx); err != nil {
		return err
	}
	logging.Info("Hub", "MCP endpoint ready at %s", services.Server.Endpoint())

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	changes := make(chan config.ChangeEvent, 8)
	if err := services.Watcher.Start(watchCtx, changes); err != nil {
		logging.Warn("Hub", "Configuration watching disabled: %v", err)
	} else {
		go reloadLoop(watchCtx, services, changes)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logging.Info("Hub", "Received %s, shutting down", sig)
	case <-ctx.Done():
		logging.Info("Hub", "Context cancelled, shutting down")
	}

	return shutdown(services)
}

// reloadLoop replays configuration changes through the reload pipeline.
func reloadLoop(ctx context.Context, services *Services, changes <-chan config.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-changes:
			if !ok {
				return
			}
			logging.Info("Hub", "Configuration document %s changed (%s), reloading", event.Document, event.Operation)
			Reload(ctx, services)
		}
	}
}

// Reload re-reads every configuration document and applies the difference
// to the running services: adapter tools are swapped, group definitions
// replaced, backend connections diffed and the frontend refreshed. A load
// or validation failure keeps the previous snapshot active.
func Reload(ctx context.Context, services *Services) {
	snapshot, err := config.Load(services.Snapshot.Path)
	if err != nil {
		logging.Error("Hub", err, "Reload failed, keeping previous configuration")
		return
	}
	if errs := config.Validate(snapshot); errs.HasErrors() {
		logging.Error("Hub", errs, "Reloaded configuration is invalid, keeping previous")
		return
	}

	previous := services.Snapshot.Hub
	if snapshot.Hub.Host != previous.Host || snapshot.Hub.Port != previous.Port || snapshot.Hub.Transport != previous.Transport {
		logging.Warn("Hub", "Endpoint settings changed on disk; restart the hub to apply them")
	}

	services.Adapter.Apply(snapshot.APITools)
	services.Resolver.Update(groupDefinitions(snapshot), snapshot.ServerIDs())
	services.Manager.Apply(ctx, snapshot.EnabledServers())
	services.Server.Refresh()
	services.Snapshot = snapshot

	logging.Info("Hub", "Configuration reloaded")
}

// shutdown tears the services down in reverse construction order: watcher,
// frontend, backend connections, adapter, cache.
func shutdown(services *Services) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := services.Watcher.Stop(); err != nil {
		logging.Warn("Hub", "Watcher stop: %v", err)
	}
	if err := services.Server.Stop(ctx); err != nil {
		logging.Warn("Hub", "Frontend stop: %v", err)
	}
	if err := services.Manager.Shutdown(ctx); err != nil {
		logging.Warn("Hub", "Backend shutdown: %v", err)
	}
	services.Adapter.Close()
	if err := services.Cache.Close(); err != nil {
		logging.Warn("Hub", "Cache close: %v", err)
	}

	logging.Info("Hub", "Shutdown complete")
	return nil
}
