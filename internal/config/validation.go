package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"mcphub/internal/registry"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

var validTransports = []string{TransportStreamableHTTP, TransportSSE, TransportStdio}

var validMethods = []string{"GET", "POST", "PUT", "DELETE"}

// Validate checks every document of a snapshot and aggregates all problems
// instead of stopping at the first. Cross-document reference checks (group
// servers, env variables) are advisory and handled by their consumers.
func Validate(s *Snapshot) ValidationErrors {
	var errs ValidationErrors

	validateHub(s.Hub, &errs)

	for _, id := range sortedKeys(s.Servers) {
		validateServer(id, s.Servers[id], &errs)
	}

	for _, id := range sortedKeys(s.Groups) {
		validateGroup(id, s.Groups[id], &errs)
	}

	validateAPITools(s.APITools, &errs)

	return errs
}

func validateHub(hub HubConfig, errs *ValidationErrors) {
	if hub.Port < 1 || hub.Port > 65535 {
		errs.Add("hub.port", "must be between 1 and 65535", hub.Port)
	}
	if !oneOf(hub.Transport, validTransports) {
		errs.Add("hub.transport", fmt.Sprintf("must be one of: %s", strings.Join(validTransports, ", ")), hub.Transport)
	}
	if hub.TraceCapacity < 0 {
		errs.Add("hub.traceCapacity", "must not be negative", hub.TraceCapacity)
	}
	if hub.Redis != nil && strings.TrimSpace(hub.Redis.Addr) == "" {
		errs.Add("hub.redis.addr", "is required when the redis section is present")
	}
}

func validateServer(id string, def ServerDefinition, errs *ValidationErrors) {
	prefix := fmt.Sprintf("mcpServers.%s", id)

	if strings.TrimSpace(id) == "" {
		errs.Add("mcpServers", "server id must not be empty")
		return
	}
	if strings.Contains(id, " ") {
		errs.Add(prefix, "server id cannot contain spaces", id)
	}

	switch def.Type {
	case TransportStdio:
		if strings.TrimSpace(def.Command) == "" {
			errs.Add(prefix+".command", "is required for stdio servers")
		}
		if def.URL != "" {
			errs.Add(prefix+".url", "is not used by stdio servers", def.URL)
		}
	case TransportSSE, TransportStreamableHTTP:
		validateEndpointURL(prefix+".url", def.URL, errs)
		if def.Command != "" {
			errs.Add(prefix+".command", "is not used by remote servers", def.Command)
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("must be one of: %s", strings.Join(validTransports, ", ")), def.Type)
	}
}

func validateGroup(id string, def GroupDefinition, errs *ValidationErrors) {
	prefix := fmt.Sprintf("groups.%s", id)

	if strings.TrimSpace(id) == "" {
		errs.Add("groups", "group id must not be empty")
		return
	}
	if def.ID != "" && def.ID != id {
		errs.Add(prefix+".id", fmt.Sprintf("does not match document key %q", id), def.ID)
	}
	for i, server := range def.Servers {
		if strings.TrimSpace(server) == "" {
			errs.Add(fmt.Sprintf("%s.servers.%d", prefix, i), "server reference must not be empty")
		}
	}
}

func validateAPITools(doc APIToolsDocument, errs *ValidationErrors) {
	if doc.Version != "" && doc.Version != APIToolsVersion {
		errs.Add("apiTools.version", fmt.Sprintf("unsupported version, expected %q", APIToolsVersion), doc.Version)
	}

	seen := map[string]bool{}
	for i, tool := range doc.Tools {
		prefix := fmt.Sprintf("apiTools.tools.%d", i)
		if tool.ID != "" {
			prefix = fmt.Sprintf("apiTools.tools.%s", tool.ID)
		}

		if strings.TrimSpace(tool.ID) == "" {
			errs.Add(prefix+".id", "is required")
		}
		if !registry.ValidName(tool.Name) {
			errs.Add(prefix+".name", "must match [A-Za-z0-9_-]+", tool.Name)
		} else if seen[tool.Name] {
			errs.Add(prefix+".name", "duplicate tool name", tool.Name)
		}
		seen[tool.Name] = true

		validateEndpointURL(prefix+".api.url", tool.API.URL, errs)
		if !oneOf(tool.API.Method, validMethods) {
			errs.Add(prefix+".api.method", fmt.Sprintf("must be one of: %s", strings.Join(validMethods, ", ")), tool.API.Method)
		}
		if tool.API.Timeout < 0 {
			errs.Add(prefix+".api.timeout", "must not be negative", tool.API.Timeout)
		}
		if tool.API.Retries != nil && *tool.API.Retries < 0 {
			errs.Add(prefix+".api.retries", "must not be negative", *tool.API.Retries)
		}
		if tool.Cache != nil {
			if tool.Cache.TTL < 0 {
				errs.Add(prefix+".cache.ttl", "must not be negative", tool.Cache.TTL)
			}
			if tool.Cache.MaxSize < 0 {
				errs.Add(prefix+".cache.maxSize", "must not be negative", tool.Cache.MaxSize)
			}
		}
		if tool.Security != nil && tool.Security.RateLimit != nil && tool.Security.RateLimit.RequestsPerMinute < 1 {
			errs.Add(prefix+".security.rateLimit.requestsPerMinute", "must be at least 1", tool.Security.RateLimit.RequestsPerMinute)
		}
	}
}

// validateEndpointURL requires an absolute http(s) URL. Template tokens are
// allowed inside; only scheme and host presence are checked here.
func validateEndpointURL(field, raw string, errs *ValidationErrors) {
	if strings.TrimSpace(raw) == "" {
		errs.Add(field, "is required")
		return
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("is not a valid URL: %v", err), raw)
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs.Add(field, "must use http or https", raw)
	}
}

func oneOf(value string, allowed []string) bool {
	for _, v := range allowed {
		if value == v {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
