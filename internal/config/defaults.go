package config

const (
	// DefaultHost is the bind address when config.yaml does not set one.
	DefaultHost = "localhost"

	// DefaultPort is the frontend port when config.yaml does not set one.
	DefaultPort = 8090

	// DefaultTraceCapacity is the per-server message trace ring size.
	DefaultTraceCapacity = 1000
)

// GetDefaultConfig returns the configuration used when config.yaml is
// absent. Loaded values are unmarshalled over it, so partial files keep
// these defaults for the fields they omit.
func GetDefaultConfig() Config {
	return Config{
		Hub: HubConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			Transport:     TransportStreamableHTTP,
			TraceCapacity: DefaultTraceCapacity,
		},
	}
}
