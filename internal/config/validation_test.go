package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot() *Snapshot {
	retries := 2
	return &Snapshot{
		Hub: GetDefaultConfig().Hub,
		Servers: map[string]ServerDefinition{
			"local":  {Type: TransportStdio, Command: "mcp-server"},
			"remote": {Type: TransportStreamableHTTP, URL: "https://mcp.example.com/mcp"},
		},
		Groups: map[string]GroupDefinition{
			"platform": {ID: "platform", Servers: []string{"local"}},
		},
		APITools: APIToolsDocument{
			Version: APIToolsVersion,
			Tools: []APIToolDefinition{{
				ID:   "weather",
				Name: "get_weather",
				API:  APISpec{URL: "https://api.example.com/weather", Method: "GET", Retries: &retries},
			}},
		},
	}
}

func TestValidate_AcceptsValidSnapshot(t *testing.T) {
	errs := Validate(validSnapshot())
	assert.False(t, errs.HasErrors(), "unexpected errors: %v", errs)
}

func TestValidate_RejectsBadDocuments(t *testing.T) {
	negative := -1

	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		field   string
		message string
	}{
		{
			name:   "port out of range",
			mutate: func(s *Snapshot) { s.Hub.Port = 0 },
			field:  "hub.port",
		},
		{
			name:   "unknown transport",
			mutate: func(s *Snapshot) { s.Hub.Transport = "carrier-pigeon" },
			field:  "hub.transport",
		},
		{
			name:   "redis without addr",
			mutate: func(s *Snapshot) { s.Hub.Redis = &RedisConfig{} },
			field:  "hub.redis.addr",
		},
		{
			name: "stdio without command",
			mutate: func(s *Snapshot) {
				s.Servers["local"] = ServerDefinition{Type: TransportStdio}
			},
			field:   "mcpServers.local.command",
			message: "required",
		},
		{
			name: "remote without url",
			mutate: func(s *Snapshot) {
				s.Servers["remote"] = ServerDefinition{Type: TransportSSE}
			},
			field: "mcpServers.remote.url",
		},
		{
			name: "remote with ftp url",
			mutate: func(s *Snapshot) {
				s.Servers["remote"] = ServerDefinition{Type: TransportSSE, URL: "ftp://example.com"}
			},
			field:   "mcpServers.remote.url",
			message: "http or https",
		},
		{
			name: "unknown server type",
			mutate: func(s *Snapshot) {
				s.Servers["local"] = ServerDefinition{Type: "websocket", Command: "x"}
			},
			field: "mcpServers.local.type",
		},
		{
			name: "group id mismatch",
			mutate: func(s *Snapshot) {
				s.Groups["platform"] = GroupDefinition{ID: "other", Servers: []string{"local"}}
			},
			field:   "groups.platform.id",
			message: "does not match document key",
		},
		{
			name: "tool name with spaces",
			mutate: func(s *Snapshot) {
				s.APITools.Tools[0].Name = "get weather"
			},
			field: "apiTools.tools.weather.name",
		},
		{
			name: "tool method unsupported",
			mutate: func(s *Snapshot) {
				s.APITools.Tools[0].API.Method = "TRACE"
			},
			field: "apiTools.tools.weather.api.method",
		},
		{
			name: "negative retries",
			mutate: func(s *Snapshot) {
				s.APITools.Tools[0].API.Retries = &negative
			},
			field: "apiTools.tools.weather.api.retries",
		},
		{
			name: "unsupported document version",
			mutate: func(s *Snapshot) {
				s.APITools.Version = "2.0"
			},
			field: "apiTools.version",
		},
		{
			name: "rate limit below one",
			mutate: func(s *Snapshot) {
				s.APITools.Tools[0].Security = &SecuritySpec{RateLimit: &RateLimitSpec{RequestsPerMinute: 0}}
			},
			field: "apiTools.tools.weather.security.rateLimit.requestsPerMinute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := validSnapshot()
			tt.mutate(snap)

			errs := Validate(snap)
			require.True(t, errs.HasErrors(), "expected validation errors")

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
					if tt.message != "" {
						assert.Contains(t, e.Message, tt.message)
					}
				}
			}
			assert.True(t, found, "no error for field %s in %v", tt.field, errs)
		})
	}
}

func TestValidate_AggregatesAllErrors(t *testing.T) {
	snap := validSnapshot()
	snap.Hub.Port = -1
	snap.Servers["local"] = ServerDefinition{Type: TransportStdio}
	snap.APITools.Tools[0].API.Method = "PATCH"

	errs := Validate(snap)
	require.GreaterOrEqual(t, len(errs), 3, "all problems reported in one pass: %v", errs)
}

func TestValidate_DuplicateToolNames(t *testing.T) {
	snap := validSnapshot()
	snap.APITools.Tools = append(snap.APITools.Tools, APIToolDefinition{
		ID:   "weather2",
		Name: "get_weather",
		API:  APISpec{URL: "https://api.example.com/other", Method: "GET"},
	})

	errs := Validate(snap)
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "duplicate tool name")
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a.b", "is required")
	assert.Equal(t, "field 'a.b': is required", errs.Error())

	errs.Add("c", "must be positive", -1)
	msg := errs.Error()
	assert.True(t, strings.HasPrefix(msg, "validation failed: "), msg)
	assert.Contains(t, msg, "field 'a.b'")
	assert.Contains(t, msg, "field 'c'")
}
