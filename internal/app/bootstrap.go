package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

// Application bootstraps and runs the hub. It is built once per process:
// NewApplication performs the complete initialization sequence and Run
// blocks until shutdown.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes an application instance.
//
// The bootstrap sequence is:
//
//  1. Configure logging from the debug and silent flags
//  2. Load .env so {{env.NAME}} references and backend env blocks resolve
//  3. Load the configuration documents from the configuration directory
//  4. Validate them, aggregating every error before failing
//  5. Apply endpoint flag overrides and build all services
//
// The returned application has not opened any listener or backend
// connection yet; that happens in Run.
func NewApplication(cfg *Config) (*Application, error) {
	configureLogging(cfg, cfg.Transport)

	if err := checkTransport(cfg.Transport); err != nil {
		return nil, err
	}

	// Values from .env feed template rendering and backend server env
	// blocks. A missing file is the normal case.
	if err := godotenv.Load(); err == nil {
		logging.Debug("Bootstrap", "Loaded environment from .env")
	}

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	snapshot, err := config.Load(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load hub configuration from %s", configPath)
		return nil, fmt.Errorf("failed to load hub configuration from %s: %w", configPath, err)
	}
	logging.Info("Bootstrap", "Loaded configuration from %s", configPath)

	if errs := config.Validate(snapshot); errs.HasErrors() {
		logging.Error("Bootstrap", errs, "Configuration is invalid")
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}

	applyOverrides(cfg, snapshot)
	// The effective transport is only known now; stdio needs stdout kept
	// clean for the protocol stream.
	configureLogging(cfg, snapshot.Hub.Transport)
	cfg.Snapshot = snapshot

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run executes the application. It blocks until the context is cancelled
// or an interrupt signal arrives, then shuts everything down in reverse
// construction order.
func (a *Application) Run(ctx context.Context) error {
	return runHub(ctx, a.services)
}

// configureLogging installs the process logger. On the stdio transport all
// logging moves to stderr because stdout carries the MCP stream.
func configureLogging(cfg *Config, transport string) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stdout
	if transport == config.TransportStdio {
		output = os.Stderr
	}
	if cfg.Silent {
		output = io.Discard
	}
	logging.InitForCLI(level, output)
}

// checkTransport rejects unknown transport flag values before any work
// happens. An empty value means "use the configured transport".
func checkTransport(transport string) error {
	switch transport {
	case "", config.TransportStreamableHTTP, config.TransportSSE, config.TransportStdio:
		return nil
	default:
		return fmt.Errorf("unknown transport %q (valid: %s, %s, %s)",
			transport, config.TransportStreamableHTTP, config.TransportSSE, config.TransportStdio)
	}
}

// applyOverrides writes the endpoint flag overrides into the snapshot, so
// everything downstream sees one effective configuration.
func applyOverrides(cfg *Config, snapshot *config.Snapshot) {
	if cfg.Host != "" {
		snapshot.Hub.Host = cfg.Host
	}
	if cfg.Port > 0 {
		snapshot.Hub.Port = cfg.Port
	}
	if cfg.Transport != "" {
		snapshot.Hub.Transport = cfg.Transport
	}
}
