package apitool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	jsonata "github.com/blues/jsonata-go"
	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/cache"
	"mcphub/internal/config"
	"mcphub/internal/errdefs"
	"mcphub/internal/registry"
	"mcphub/internal/resilience"
	"mcphub/internal/schema"
	"mcphub/internal/template"
	"mcphub/pkg/logging"
)

// Tool is one compiled API tool definition, ready to execute.
type Tool struct {
	name         string
	def          config.APIToolDefinition
	schema       *schema.Schema
	auth         Strategy
	condition    *jsonata.Expr
	transform    *jsonata.Expr
	errorPath    string
	allowedHosts []string
	requiredEnv  []string
}

// rateLimit returns the per-minute budget, zero meaning unlimited.
func (t *Tool) rateLimit() int {
	if t.def.Security == nil || t.def.Security.RateLimit == nil {
		return 0
	}
	return t.def.Security.RateLimit.RequestsPerMinute
}

func (t *Tool) cacheEnabled() bool {
	return t.def.Cache != nil && t.def.Cache.Enabled
}

// checkHost enforces the allow-list on the rendered URL, so argument values
// cannot steer a tool at an unexpected host.
func (t *Tool) checkHost(target *url.URL) error {
	if len(t.allowedHosts) == 0 {
		return nil
	}
	host := strings.ToLower(target.Hostname())
	for _, allowed := range t.allowedHosts {
		if host == allowed {
			return nil
		}
	}
	return errdefs.New(errdefs.CodeAccessDenied, errdefs.SeverityHigh, "access-denied").
		WithDetails("host %q is not in the allowed hosts for tool %q", host, t.name)
}

// interpret classifies and shapes a fully read upstream reply.
func (t *Tool) interpret(resp *Response) *mcp.CallToolResult {
	decoded := decodeBody(resp.Body)

	if !t.successful(resp.Status, decoded) {
		return mcp.NewToolResultError(t.errorText(resp.Status, resp.Body, decoded))
	}

	text, err := t.shape(decoded)
	if err != nil {
		return mcp.NewToolResultError("响应转换失败: " + err.Error())
	}
	return mcp.NewToolResultText(text)
}

// Options tunes the adapter.
type Options struct {
	// Cache stores responses for tools with caching enabled. nil disables
	// caching globally.
	Cache cache.Store

	// Backoff is the retry schedule for upstream requests; the retry count
	// itself comes from each tool's definition. Zero value uses the hub
	// default.
	Backoff resilience.Policy

	// Env overrides the process environment lookup, for tests.
	Env func(string) (string, bool)
}

// Adapter compiles API tool definitions and serves their calls. It owns the
// adapter's seat in the tool registry: every compiled tool is published
// under the shared adapter source, and Apply swaps the whole set.
type Adapter struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	registry  *registry.Registry
	engine    *template.Engine
	lookupEnv func(string) (string, bool)
	executor  *Executor
	cache     cache.Store
	limiter   *windowLimiter
	backoff   resilience.Policy
}

// New creates an adapter publishing into reg.
func New(reg *registry.Registry, opts Options) *Adapter {
	lookup := opts.Env
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.Backoff == (resilience.Policy{}) {
		opts.Backoff = resilience.DefaultPolicy()
	}

	return &Adapter{
		tools:     make(map[string]*Tool),
		registry:  reg,
		engine:    template.NewWithEnv(lookup),
		lookupEnv: lookup,
		executor:  NewExecutor(),
		cache:     opts.Cache,
		limiter:   newWindowLimiter(),
		backoff:   opts.Backoff,
	}
}

// Apply replaces the adapter's tool set with the document's definitions.
// Definitions that fail to compile or reference missing environment
// variables are skipped with a warning, so one bad tool never takes down
// the rest. Returns the names that were registered.
func (a *Adapter) Apply(doc config.APIToolsDocument) []string {
	compiled := make(map[string]*Tool, len(doc.Tools))
	for _, def := range doc.Tools {
		tool, err := a.compile(def)
		if err != nil {
			logging.Warn("APITool", "Skipping tool %q: %v", def.ID, err)
			continue
		}
		if missing := a.missingEnv(tool); len(missing) > 0 {
			logging.Warn("APITool", "Tool %q disabled: missing environment variable(s) %s",
				def.ID, strings.Join(missing, ", "))
			continue
		}
		compiled[tool.name] = tool
	}

	a.mu.Lock()
	a.tools = compiled
	a.mu.Unlock()

	// Swap the registry seat: drop stale names, then publish the new set.
	a.registry.UnregisterBySource(registry.AdapterSource)

	names := make([]string, 0, len(compiled))
	for name := range compiled {
		names = append(names, name)
	}
	sort.Strings(names)

	var registered []string
	for _, name := range names {
		tool := compiled[name]
		if existing, ok := a.registry.Get(name); ok {
			if src := existing.Origin.SourceID(); src < registry.AdapterSource {
				logging.Warn("APITool", "Tool %q is shadowed by %s (first by source id)", name, src)
				continue
			}
		}
		if err := a.registry.Register(registry.Tool{
			Name:        name,
			Description: tool.def.Description,
			InputSchema: tool.schema.Raw(),
			Origin:      registry.AdapterOrigin(tool.def.ID),
		}); err != nil {
			logging.Warn("APITool", "Skipping tool %q: %v", name, err)
			continue
		}
		registered = append(registered, name)
	}

	logging.Info("APITool", "Registered %d API tool(s)", len(registered))
	return registered
}

// Execute runs the named tool against its upstream. Argument validation
// failures and upstream error replies come back as error results with a nil
// error; transport failures and hub-side refusals return an error instead.
func (a *Adapter) Execute(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	defer metrics.MeasureSince([]string{"apitool", "request", "latency"}, time.Now())

	a.mu.RLock()
	tool, ok := a.tools[name]
	a.mu.RUnlock()
	if !ok {
		return nil, errdefs.NewToolNotFound(name, registry.AdapterSource)
	}

	if limit := tool.rateLimit(); limit > 0 && !a.limiter.allow(tool.def.ID, limit) {
		metrics.IncrCounter([]string{"apitool", "request", "throttled"}, 1)
		return nil, errdefs.New(errdefs.CodeAccessDenied, errdefs.SeverityLow, "access-denied").
			WithDetails("tool %q exceeded its budget of %d requests per minute", name, limit)
	}

	issues, normalized := tool.schema.Validate(args)
	if len(issues) > 0 {
		metrics.IncrCounter([]string{"apitool", "request", "invalid"}, 1)
		return mcp.NewToolResultError("参数验证失败: " + formatIssues(issues)), nil
	}

	cacheKey := ""
	cacheable := a.cache != nil && tool.cacheEnabled()
	if cacheable {
		cacheKey = cache.Key(tool.def.ID, normalized)
		if hit, ok := a.cache.Get(ctx, cacheKey); ok {
			if result, ok := resultFromCache(hit); ok {
				metrics.IncrCounter([]string{"apitool", "cache", "hit"}, 1)
				logging.Debug("APITool", "Cache hit for tool %q", name)
				return result, nil
			}
		}
		metrics.IncrCounter([]string{"apitool", "cache", "miss"}, 1)
	}

	resp, err := a.send(ctx, tool, normalized)
	if err != nil {
		metrics.IncrCounter([]string{"apitool", "request", "error"}, 1)
		return nil, err
	}

	result := tool.interpret(resp)

	if cacheable && (!result.IsError || tool.def.Cache.CacheErrors) {
		a.cache.Set(ctx, cacheKey, resultToCache(result), tool.def.Cache.TTLDuration())
	}

	if result.IsError {
		metrics.IncrCounter([]string{"apitool", "request", "error"}, 1)
	} else {
		metrics.IncrCounter([]string{"apitool", "request", "success"}, 1)
	}
	return result, nil
}

// Has reports whether the adapter currently serves name.
func (a *Adapter) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tools[name]
	return ok
}

// Names returns the compiled tool names, sorted.
func (a *Adapter) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheStats exposes the response cache statistics when caching is
// configured.
func (a *Adapter) CacheStats() (cache.Stats, bool) {
	if a.cache == nil {
		return cache.Stats{}, false
	}
	return a.cache.Stats(), true
}

// Close releases the executor's pooled connections. The cache is owned by
// the caller and stays open.
func (a *Adapter) Close() {
	a.executor.Close()
}

// compile turns a definition into an executable tool, rejecting anything
// that would fail at call time.
func (a *Adapter) compile(def config.APIToolDefinition) (*Tool, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("tool id is required")
	}
	if def.API.URL == "" {
		return nil, fmt.Errorf("api.url is required")
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}

	params := def.Parameters
	if params == nil {
		params = map[string]interface{}{"type": "object"}
	}
	compiledSchema, err := schema.Compile(params)
	if err != nil {
		return nil, err
	}

	var authSpec *config.AuthSpec
	if def.Security != nil {
		authSpec = def.Security.Authentication
	}
	auth, err := NewStrategy(authSpec, a.engine)
	if err != nil {
		return nil, err
	}

	tool := &Tool{
		name:   name,
		def:    def,
		schema: compiledSchema,
		auth:   auth,
	}

	if def.Response != nil {
		if def.Response.SuccessCondition != "" {
			expr, err := jsonata.Compile(def.Response.SuccessCondition)
			if err != nil {
				return nil, fmt.Errorf("invalid successCondition: %w", err)
			}
			tool.condition = expr
		}
		if def.Response.JSONata != "" {
			expr, err := jsonata.Compile(def.Response.JSONata)
			if err != nil {
				return nil, fmt.Errorf("invalid jsonata transform: %w", err)
			}
			tool.transform = expr
		}
		tool.errorPath = def.Response.ErrorPath
	}

	if def.Security != nil {
		for _, host := range def.Security.AllowedHosts {
			tool.allowedHosts = append(tool.allowedHosts, strings.ToLower(host))
		}
	}

	tool.requiredEnv = a.referencedEnv(tool)
	return tool, nil
}

// referencedEnv collects every environment variable the tool's request
// templates and credentials reference.
func (a *Adapter) referencedEnv(tool *Tool) []string {
	var refs []interface{}
	refs = append(refs, tool.def.API.URL)
	for _, v := range tool.def.API.Headers {
		refs = append(refs, v)
	}
	for _, v := range tool.def.API.QueryParams {
		refs = append(refs, v)
	}
	if tool.def.API.Body != nil {
		refs = append(refs, tool.def.API.Body)
	}

	seen := make(map[string]bool)
	var names []string
	for _, name := range a.engine.ReferencedEnv(refs) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range tool.auth.RequiredEnv() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (a *Adapter) missingEnv(tool *Tool) []string {
	var missing []string
	for _, name := range tool.requiredEnv {
		if _, ok := a.lookupEnv(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// send renders and executes the HTTP request for one call.
func (a *Adapter) send(ctx context.Context, tool *Tool, args map[string]interface{}) (*Response, error) {
	rawURL, err := a.engine.ResolveToString(tool.def.API.URL, args)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, errdefs.NewValidationFailed(fmt.Sprintf("tool %q rendered an invalid URL %q", tool.name, rawURL))
	}
	if err := tool.checkHost(target); err != nil {
		return nil, err
	}

	query := target.Query()
	for key, value := range tool.def.API.QueryParams {
		resolved, err := a.engine.ResolveToString(value, args)
		if err != nil {
			return nil, err
		}
		query.Set(key, resolved)
	}
	target.RawQuery = query.Encode()

	headers := make(map[string]string, len(tool.def.API.Headers))
	for key, value := range tool.def.API.Headers {
		resolved, err := a.engine.ResolveToString(value, args)
		if err != nil {
			return nil, err
		}
		headers[key] = resolved
	}

	method := strings.ToUpper(tool.def.API.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body []byte
	if tool.def.API.Body != nil && method != http.MethodGet {
		resolved, err := a.engine.Resolve(tool.def.API.Body, args)
		if err != nil {
			return nil, err
		}
		body, err = json.Marshal(resolved)
		if err != nil {
			return nil, errdefs.NewInternal(err, "encoding request body")
		}
	}

	policy := resilience.Policy{
		MaxRetries:  tool.def.API.RetryCount(),
		BaseBackoff: a.backoff.BaseBackoff,
		MaxBackoff:  a.backoff.MaxBackoff,
	}

	return a.executor.Do(ctx, policy, tool.def.API.RequestTimeout(), func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return nil, err
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if err := tool.auth.Apply(req); err != nil {
			return nil, err
		}
		return req, nil
	})
}

func formatIssues(issues []schema.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		if issue.Path == "" {
			parts = append(parts, issue.Message)
			continue
		}
		parts = append(parts, issue.Path+": "+issue.Message)
	}
	return strings.Join(parts, "; ")
}

// resultToCache flattens a result for storage in any cache tier. The
// adapter only produces single text block results, so the stored shape is
// {isError, text} and survives a JSON round trip through the remote tier.
func resultToCache(result *mcp.CallToolResult) map[string]interface{} {
	return map[string]interface{}{
		"isError": result.IsError,
		"text":    firstText(result),
	}
}

func resultFromCache(value interface{}) (*mcp.CallToolResult, bool) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	text, ok := m["text"].(string)
	if !ok {
		return nil, false
	}
	if isError, _ := m["isError"].(bool); isError {
		return mcp.NewToolResultError(text), true
	}
	return mcp.NewToolResultText(text), true
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
