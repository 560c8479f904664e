package template

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"mcphub/internal/errdefs"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Engine substitutes {{env.NAME}} and {{data.PATH}} tokens in configuration
// values. PATH is a dotted path into the call arguments. Resolution is a pure
// function of (value, data, environment); the environment lookup is injected
// so tests control it.
type Engine struct {
	lookupEnv func(string) (string, bool)
}

// New creates a template engine reading the process environment.
func New() *Engine {
	return &Engine{lookupEnv: os.LookupEnv}
}

// NewWithEnv creates a template engine with a custom environment lookup.
func NewWithEnv(lookup func(string) (string, bool)) *Engine {
	return &Engine{lookupEnv: lookup}
}

// Resolve rewrites a configuration value tree, substituting tokens on string
// leaves. A string that consists of exactly one token is replaced by the
// referenced value verbatim, preserving its JSON type; tokens embedded in
// longer strings are stringified in place. A missing env variable is an
// error; a missing data path resolves to null. Tokens in neither namespace
// pass through untouched.
func (e *Engine) Resolve(value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.resolveString(v, data)
	case map[string]interface{}:
		return e.resolveMap(v, data)
	case []interface{}:
		return e.resolveSlice(v, data)
	default:
		// Non-templatable types are returned as-is
		return value, nil
	}
}

// ResolveToString resolves a single string value and stringifies the result.
// Used for values that must stay strings after substitution, like URLs.
func (e *Engine) ResolveToString(value string, data map[string]interface{}) (string, error) {
	resolved, err := e.resolveString(value, data)
	if err != nil {
		return "", err
	}
	if s, ok := resolved.(string); ok {
		return s, nil
	}
	return stringify(resolved), nil
}

func (e *Engine) resolveString(s string, data map[string]interface{}) (interface{}, error) {
	tags := extractTags(s, startTag, endTag)
	if len(tags) == 0 {
		return s, nil
	}

	// A string that is exactly one token substitutes the referenced value
	// verbatim so JSON types survive.
	if len(tags) == 1 && s == startTag+tags[0]+endTag {
		return e.resolveTag(tags[0], data)
	}

	params := make(map[string]interface{}, len(tags))
	for _, tag := range tags {
		if _, done := params[tag]; done {
			continue
		}
		val, err := e.resolveTag(tag, data)
		if err != nil {
			return nil, err
		}
		params[tag] = stringify(val)
	}

	tpl, err := fasttemplate.NewTemplate(s, startTag, endTag)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", s, err)
	}
	return tpl.ExecuteString(params), nil
}

func (e *Engine) resolveMap(m map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))

	for key, value := range m {
		resolved, err := e.Resolve(value, data)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = resolved
	}

	return result, nil
}

func (e *Engine) resolveSlice(s []interface{}, data map[string]interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))

	for i, value := range s {
		resolved, err := e.Resolve(value, data)
		if err != nil {
			return nil, fmt.Errorf("error at index %d: %w", i, err)
		}
		result[i] = resolved
	}

	return result, nil
}

// resolveTag resolves one token body. Unknown namespaces return the literal
// token so configs using other templating systems downstream keep working.
func (e *Engine) resolveTag(tag string, data map[string]interface{}) (interface{}, error) {
	trimmed := strings.TrimSpace(tag)
	switch {
	case strings.HasPrefix(trimmed, "env."):
		name := strings.TrimPrefix(trimmed, "env.")
		val, ok := e.lookupEnv(name)
		if !ok {
			return nil, errdefs.NewMissingEnvVar(name)
		}
		return val, nil
	case strings.HasPrefix(trimmed, "data."):
		path := strings.TrimPrefix(trimmed, "data.")
		return lookupPath(data, path), nil
	default:
		return startTag + tag + endTag, nil
	}
}

// lookupPath walks a dotted path through nested objects. Any missing or
// non-object intermediate yields nil.
func lookupPath(data map[string]interface{}, path string) interface{} {
	current := interface{}(data)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = obj[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// ReferencedEnv returns the sorted set of environment variable names the
// value tree references through {{env.NAME}} tokens. Used at load time to
// verify a tool's environment is complete before registering it.
func (e *Engine) ReferencedEnv(value interface{}) []string {
	names := make(map[string]bool)
	referencedEnvRecursive(value, names)

	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func referencedEnvRecursive(value interface{}, names map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, tag := range extractTags(v, startTag, endTag) {
			trimmed := strings.TrimSpace(tag)
			if strings.HasPrefix(trimmed, "env.") {
				names[strings.TrimPrefix(trimmed, "env.")] = true
			}
		}
	case map[string]interface{}:
		for _, val := range v {
			referencedEnvRecursive(val, names)
		}
	case []interface{}:
		for _, val := range v {
			referencedEnvRecursive(val, names)
		}
	}
}

// stringify renders a resolved value for embedding inside a longer string.
// Floats drop trailing zeros so numeric arguments compose into URLs cleanly.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func extractTags(template, start, end string) []string {
	var tags []string
	for {
		i := strings.Index(template, start)
		if i == -1 {
			break
		}
		template = template[i+len(start):]
		j := strings.Index(template, end)
		if j == -1 {
			break
		}
		tags = append(tags, template[:j])
		template = template[j+len(end):]
	}
	return tags
}
