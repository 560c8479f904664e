package config

import "time"

// Transport names shared by backend server definitions and the hub frontend.
const (
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP = "streamable-http"
	// TransportSSE is the Server-Sent Events transport.
	TransportSSE = "sse"
	// TransportStdio is the standard I/O transport.
	TransportStdio = "stdio"
)

// Config is the top-level structure of config.yaml.
type Config struct {
	Hub HubConfig `yaml:"hub"`
}

// HubConfig defines the hub process settings.
type HubConfig struct {
	Host          string       `yaml:"host,omitempty"`          // Host to bind to (default: localhost)
	Port          int          `yaml:"port,omitempty"`          // Port for the frontend endpoint (default: 8090)
	Transport     string       `yaml:"transport,omitempty"`     // Frontend transport (default: streamable-http)
	TraceCapacity int          `yaml:"traceCapacity,omitempty"` // Per-server message trace ring size (default: 1000)
	Redis         *RedisConfig `yaml:"redis,omitempty"`         // Optional shared cache tier
}

// RedisConfig enables the optional second cache tier for adapter responses.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ServersDocument is the schema of mcp_server.json.
type ServersDocument struct {
	MCPServers map[string]ServerDefinition `json:"mcpServers"`
}

// ServerDefinition describes one backend MCP server. Command/Args/Env apply
// to stdio servers, URL/Headers to sse and streamable-http servers.
type ServerDefinition struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be managed. Definitions
// without an explicit enabled flag are enabled.
func (d ServerDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// GroupDefinition is one entry of group.json, keyed by group id.
type GroupDefinition struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Servers []string `json:"servers"`
	Tools   []string `json:"tools,omitempty"`
}

// APIToolsDocument is the schema of api-tools.json.
type APIToolsDocument struct {
	Version string              `json:"version"`
	Tools   []APIToolDefinition `json:"tools"`
}

// APIToolsVersion is the document version this hub understands.
const APIToolsVersion = "1.0"

// APIToolDefinition declares one REST endpoint exposed as an MCP tool.
type APIToolDefinition struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	API         APISpec                `json:"api"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Response    *ResponseSpec          `json:"response,omitempty"`
	Security    *SecuritySpec          `json:"security,omitempty"`
	Cache       *CacheSpec             `json:"cache,omitempty"`
}

// APISpec describes the outbound HTTP request. URL, header values, query
// values and body leaves may contain {{env.NAME}} and {{data.path}} tokens.
type APISpec struct {
	URL         string                 `json:"url"`
	Method      string                 `json:"method"`
	Headers     map[string]string      `json:"headers,omitempty"`
	QueryParams map[string]string      `json:"queryParams,omitempty"`
	Body        map[string]interface{} `json:"body,omitempty"`
	Timeout     int                    `json:"timeout,omitempty"` // milliseconds
	Retries     *int                   `json:"retries,omitempty"`
}

// RequestTimeout returns the per-call timeout, defaulting to 30 seconds.
func (a APISpec) RequestTimeout() time.Duration {
	if a.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.Timeout) * time.Millisecond
}

// RetryCount returns the configured retry count, defaulting to 3. The total
// attempt count is one higher.
func (a APISpec) RetryCount() int {
	if a.Retries == nil || *a.Retries < 0 {
		return 3
	}
	return *a.Retries
}

// ResponseSpec controls classification and transformation of the response.
type ResponseSpec struct {
	JSONata          string `json:"jsonata,omitempty"`
	ErrorPath        string `json:"errorPath,omitempty"`
	SuccessCondition string `json:"successCondition,omitempty"`
}

// SecuritySpec groups the optional protections of one adapter tool.
type SecuritySpec struct {
	Authentication *AuthSpec      `json:"authentication,omitempty"`
	AllowedHosts   []string       `json:"allowedHosts,omitempty"`
	RateLimit      *RateLimitSpec `json:"rateLimit,omitempty"`
}

// AuthSpec configures outbound authentication. Token, Username and Password
// may reference environment variables through {{env.NAME}} tokens.
type AuthSpec struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Header   string `json:"header,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// RateLimitSpec caps how often one adapter tool may execute.
type RateLimitSpec struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

// CacheSpec enables response caching for one adapter tool. TTL is in
// seconds; zero falls back to the store default.
type CacheSpec struct {
	Enabled     bool `json:"enabled"`
	TTL         int  `json:"ttl,omitempty"`
	MaxSize     int  `json:"maxSize,omitempty"`
	CacheErrors bool `json:"cacheErrors,omitempty"`
}

// TTLDuration converts the configured TTL to a duration, zero when unset.
func (c CacheSpec) TTLDuration() time.Duration {
	if c.TTL <= 0 {
		return 0
	}
	return time.Duration(c.TTL) * time.Second
}

// Snapshot is one immutable load of every configuration document. Consumers
// treat it as read-only and swap whole snapshots on reload.
type Snapshot struct {
	Path     string
	Hub      HubConfig
	Servers  map[string]ServerDefinition
	Groups   map[string]GroupDefinition
	APITools APIToolsDocument
}

// ServerIDs returns the configured server ids in map order. Callers that
// need stable order sort the result.
func (s *Snapshot) ServerIDs() []string {
	ids := make([]string, 0, len(s.Servers))
	for id := range s.Servers {
		ids = append(ids, id)
	}
	return ids
}

// EnabledServers returns only the definitions that should be connected.
func (s *Snapshot) EnabledServers() map[string]ServerDefinition {
	out := make(map[string]ServerDefinition, len(s.Servers))
	for id, def := range s.Servers {
		if def.IsEnabled() {
			out[id] = def
		}
	}
	return out
}
