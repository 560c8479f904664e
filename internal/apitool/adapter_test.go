package apitool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/cache"
	"mcphub/internal/config"
	"mcphub/internal/errdefs"
	"mcphub/internal/registry"
	"mcphub/internal/resilience"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func intPtr(v int) *int { return &v }

func apiDef(id, upstreamURL string) config.APIToolDefinition {
	return config.APIToolDefinition{
		ID:   id,
		Name: id,
		API:  config.APISpec{URL: upstreamURL, Method: "GET"},
	}
}

func newTestAdapter(t *testing.T, opts Options) (*Adapter, *registry.Registry) {
	t.Helper()
	if opts.Env == nil {
		opts.Env = envLookup(nil)
	}
	if opts.Backoff == (resilience.Policy{}) {
		opts.Backoff = resilience.Policy{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
	}
	reg := registry.New()
	a := New(reg, opts)
	t.Cleanup(a.Close)
	return a, reg
}

func applyOne(t *testing.T, a *Adapter, def config.APIToolDefinition) {
	t.Helper()
	registered := a.Apply(config.APIToolsDocument{
		Version: config.APIToolsVersion,
		Tools:   []config.APIToolDefinition{def},
	})
	require.Equal(t, []string{def.Name}, registered)
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected a text content block")
	return tc.Text
}

func TestExecute_RendersRequest(t *testing.T) {
	var gotQuery url.Values
	var gotHeader http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"Berlin","main":{"temp":21.5}}`)
	}))
	defer upstream.Close()

	def := apiDef("get_weather", upstream.URL+"/data/2.5/weather")
	def.Description = "Current weather for a city"
	def.API.QueryParams = map[string]string{"q": "{{data.city}}", "appid": "{{env.WEATHER_KEY}}"}
	def.API.Headers = map[string]string{"X-Caller": "hub-{{data.city}}"}
	def.Parameters = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"city"},
	}
	def.Response = &config.ResponseSpec{JSONata: `{"city": name, "temp": main.temp}`}

	a, reg := newTestAdapter(t, Options{Env: envLookup(map[string]string{"WEATHER_KEY": "k-123"})})
	applyOne(t, a, def)

	tool, ok := reg.Get("get_weather")
	require.True(t, ok)
	assert.Equal(t, registry.AdapterOrigin("get_weather"), tool.Origin)
	assert.Equal(t, "Current weather for a city", tool.Description)

	result, err := a.Execute(context.Background(), "get_weather", map[string]interface{}{"city": "Berlin"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"city":"Berlin","temp":21.5}`, textOf(t, result))

	assert.Equal(t, "Berlin", gotQuery.Get("q"))
	assert.Equal(t, "k-123", gotQuery.Get("appid"))
	assert.Equal(t, "hub-Berlin", gotHeader.Get("X-Caller"))
}

func TestExecute_ArrayTransform(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"name":"John","age":30},{"name":"Jane","age":25}]`)
	}))
	defer upstream.Close()

	def := apiDef("list_users", upstream.URL+"/users")
	def.Response = &config.ResponseSpec{JSONata: `$[0].name`}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "list_users", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "John", textOf(t, result), "string results pass through without quoting")
}

func TestExecute_AppliesSchemaDefaults(t *testing.T) {
	var gotQuery url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	def := apiDef("get_weather", upstream.URL)
	def.API.QueryParams = map[string]string{"q": "{{data.city}}", "units": "{{data.units}}"}
	def.Parameters = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city":  map[string]interface{}{"type": "string"},
			"units": map[string]interface{}{"type": "string", "default": "metric"},
		},
		"required": []interface{}{"city"},
	}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	_, err := a.Execute(context.Background(), "get_weather", map[string]interface{}{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "metric", gotQuery.Get("units"), "schema default flows into the request")
}

func TestExecute_ValidationFailure(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	def := apiDef("get_weather", upstream.URL)
	def.Parameters = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
			"days": map[string]interface{}{"type": "integer", "maximum": float64(7)},
		},
		"required": []interface{}{"city"},
	}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "get_weather", map[string]interface{}{"days": float64(30)})
	require.NoError(t, err)
	require.True(t, result.IsError)

	text := textOf(t, result)
	assert.True(t, strings.HasPrefix(text, "参数验证失败: "), "got %q", text)
	assert.Contains(t, text, "city")
	assert.Contains(t, text, "days")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "invalid arguments never reach the upstream")
}

func TestExecute_POSTBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody = map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"created":true}`)
	}))
	defer upstream.Close()

	def := apiDef("create_alert", upstream.URL+"/alerts")
	def.API.Method = "POST"
	def.API.Body = map[string]interface{}{
		"city":    "{{data.city}}",
		"nested":  map[string]interface{}{"verbose": "{{data.verbose}}"},
		"static":  "always",
		"partial": "city={{data.city}}",
	}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "create_alert", map[string]interface{}{
		"city":    "Oslo",
		"verbose": true,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Oslo", gotBody["city"])
	assert.Equal(t, "always", gotBody["static"])
	assert.Equal(t, "city=Oslo", gotBody["partial"])
	nested, ok := gotBody["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, nested["verbose"], "single-token substitution keeps the JSON type")
}

func TestExecute_CacheHit(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"temp":20}`)
	}))
	defer upstream.Close()

	def := apiDef("get_weather", upstream.URL)
	def.Cache = &config.CacheSpec{Enabled: true, TTL: 60}

	store := cache.NewMemoryStore(16, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	a, _ := newTestAdapter(t, Options{Cache: store})
	applyOne(t, a, def)

	args := map[string]interface{}{"city": "Berlin"}
	first, err := a.Execute(context.Background(), "get_weather", args)
	require.NoError(t, err)
	second, err := a.Execute(context.Background(), "get_weather", args)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call is served from the cache")
	assert.Equal(t, textOf(t, first), textOf(t, second))

	// Different arguments miss.
	_, err = a.Execute(context.Background(), "get_weather", map[string]interface{}{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ErrorCaching(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such city"}`)
	}))
	defer upstream.Close()

	store := cache.NewMemoryStore(16, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("errors skip the cache by default", func(t *testing.T) {
		def := apiDef("lookup_a", upstream.URL)
		def.Cache = &config.CacheSpec{Enabled: true, TTL: 60}

		a, _ := newTestAdapter(t, Options{Cache: store})
		applyOne(t, a, def)

		atomic.StoreInt32(&calls, 0)
		for i := 0; i < 2; i++ {
			result, err := a.Execute(context.Background(), "lookup_a", nil)
			require.NoError(t, err)
			assert.True(t, result.IsError)
		}
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("cacheErrors stores error replies", func(t *testing.T) {
		def := apiDef("lookup_b", upstream.URL)
		def.Cache = &config.CacheSpec{Enabled: true, TTL: 60, CacheErrors: true}

		a, _ := newTestAdapter(t, Options{Cache: store})
		applyOne(t, a, def)

		atomic.StoreInt32(&calls, 0)
		for i := 0; i < 2; i++ {
			result, err := a.Execute(context.Background(), "lookup_b", nil)
			require.NoError(t, err)
			assert.True(t, result.IsError)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	def := apiDef("flaky", upstream.URL)
	def.API.Retries = intPtr(2)

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_RetriesExhausted(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	def := apiDef("down", upstream.URL)
	def.API.Retries = intPtr(1)

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	_, err := a.Execute(context.Background(), "down", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeUnavailable))
	assert.Contains(t, err.Error(), "HTTP 503 after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ClientErrorsDoNotRetry(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"no such city"}}`)
	}))
	defer upstream.Close()

	def := apiDef("lookup", upstream.URL)
	def.API.Retries = intPtr(3)
	def.Response = &config.ResponseSpec{ErrorPath: "$.error.message"}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "lookup", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "no such city", textOf(t, result))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx replies are final")
}

func TestExecute_SuccessCondition(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") == "ok" {
			fmt.Fprint(w, `{"status":"ok","value":42}`)
			return
		}
		fmt.Fprint(w, `{"status":"error","message":"quota exceeded"}`)
	}))
	defer upstream.Close()

	def := apiDef("check", upstream.URL)
	def.API.QueryParams = map[string]string{"mode": "{{data.mode}}"}
	def.Response = &config.ResponseSpec{
		SuccessCondition: `status = "ok"`,
		ErrorPath:        "$.message",
	}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	// HTTP 200 alone is not enough once a condition is configured.
	result, err := a.Execute(context.Background(), "check", map[string]interface{}{"mode": "fail"})
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "quota exceeded", textOf(t, result))

	result, err = a.Execute(context.Background(), "check", map[string]interface{}{"mode": "ok"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestExecute_TransformFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"a":1}`)
	}))
	defer upstream.Close()

	def := apiDef("shaped", upstream.URL)
	def.Response = &config.ResponseSpec{JSONata: `b.c`}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	result, err := a.Execute(context.Background(), "shaped", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(textOf(t, result), "响应转换失败: "), "got %q", textOf(t, result))
}

func TestExecute_AllowedHosts(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	def := apiDef("locked", upstream.URL)
	def.Security = &config.SecuritySpec{AllowedHosts: []string{"api.example.com"}}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	_, err := a.Execute(context.Background(), "locked", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeAccessDenied))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestExecute_RateLimited(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	def := apiDef("budgeted", upstream.URL)
	def.Security = &config.SecuritySpec{RateLimit: &config.RateLimitSpec{RequestsPerMinute: 2}}

	a, _ := newTestAdapter(t, Options{})
	applyOne(t, a, def)

	frozen := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	a.limiter.now = func() time.Time { return frozen }

	for i := 0; i < 2; i++ {
		_, err := a.Execute(context.Background(), "budgeted", nil)
		require.NoError(t, err)
	}
	_, err := a.Execute(context.Background(), "budgeted", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeAccessDenied))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_UnknownTool(t *testing.T) {
	a, _ := newTestAdapter(t, Options{})
	_, err := a.Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsToolNotFound(err))
}

func TestApply_MissingEnvDisablesTool(t *testing.T) {
	def := apiDef("needs_secret", "https://api.example.com/v1")
	def.API.Headers = map[string]string{"Authorization": "{{env.ABSENT_SECRET}}"}

	a, reg := newTestAdapter(t, Options{Env: envLookup(nil)})
	registered := a.Apply(config.APIToolsDocument{
		Version: config.APIToolsVersion,
		Tools:   []config.APIToolDefinition{def},
	})

	assert.Empty(t, registered)
	assert.False(t, a.Has("needs_secret"))
	assert.Equal(t, 0, reg.Len())
}

func TestApply_SwapsToolSet(t *testing.T) {
	a, reg := newTestAdapter(t, Options{})

	applyOne(t, a, apiDef("tool_a", "https://api.example.com/a"))
	require.Equal(t, []string{"tool_a"}, reg.Names())

	applyOne(t, a, apiDef("tool_b", "https://api.example.com/b"))
	assert.Equal(t, []string{"tool_b"}, reg.Names())
	assert.Equal(t, []string{"tool_b"}, a.Names())
	assert.False(t, a.Has("tool_a"))
}

func TestApply_SkipsBrokenDefinitions(t *testing.T) {
	good := apiDef("good_tool", "https://api.example.com/ok")

	badSchema := apiDef("bad_schema", "https://api.example.com/bad")
	badSchema.Parameters = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"n": map[string]interface{}{"type": "integer", "minimum": float64(10), "maximum": float64(1)},
		},
	}

	badAuth := apiDef("bad_auth", "https://api.example.com/auth")
	badAuth.Security = &config.SecuritySpec{Authentication: &config.AuthSpec{Type: "oauth2"}}

	a, reg := newTestAdapter(t, Options{})
	registered := a.Apply(config.APIToolsDocument{
		Version: config.APIToolsVersion,
		Tools:   []config.APIToolDefinition{good, badSchema, badAuth},
	})

	assert.Equal(t, []string{"good_tool"}, registered)
	assert.Equal(t, []string{"good_tool"}, reg.Names())
}
