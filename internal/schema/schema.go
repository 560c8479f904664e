// Package schema implements the JSON-Schema subset used to validate adapter
// tool parameters. Schemas are compiled once at registration time, which is
// also where inconsistent bounds and unknown keywords are rejected, so call
// time validation only walks data.
//
// Supported keywords: type, required, properties, additionalProperties,
// items, enum, minimum, maximum, minLength, maxLength, minItems, maxItems,
// pattern, format (email, date, date-time), default.
package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Issue is a single validation failure. Issues are aggregated so a caller
// sees every problem with the arguments at once.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Issue codes, stable across releases.
const (
	CodeRequired   = "required"
	CodeType       = "type"
	CodeEnum       = "enum"
	CodeMinimum    = "minimum"
	CodeMaximum    = "maximum"
	CodeMinLength  = "minLength"
	CodeMaxLength  = "maxLength"
	CodeMinItems   = "minItems"
	CodeMaxItems   = "maxItems"
	CodePattern    = "pattern"
	CodeFormat     = "format"
	CodeAdditional = "additionalProperties"
)

// maxDepth bounds schema nesting to keep compilation and validation away
// from pathological documents.
const maxDepth = 32

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Schema is a compiled parameter schema. The zero value is not usable;
// construct through Compile.
type Schema struct {
	root *node
	raw  map[string]interface{}
}

type node struct {
	typ        string // empty means any type
	required   []string
	properties map[string]*node
	propOrder  []string
	additional *bool // nil means additional properties allowed
	items      *node
	enum       []interface{}
	minimum    *float64
	maximum    *float64
	minLength  *int
	maxLength  *int
	minItems   *int
	maxItems   *int
	pattern    *regexp.Regexp
	format     string
	defaultVal interface{}
	hasDefault bool
}

// Compile parses and checks a schema document. The top level must describe an
// object. Inconsistent bounds (minimum > maximum and friends), required names
// missing from properties, and invalid patterns are rejected here so a bad
// tool config never reaches call time.
func Compile(doc map[string]interface{}) (*Schema, error) {
	var problems []string

	root := compileNode(doc, "", 0, &problems)

	if root.typ != "" && root.typ != "object" {
		problems = append(problems, fmt.Sprintf("top-level schema must describe an object, got %q", root.typ))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid schema: %s", strings.Join(problems, "; "))
	}
	return &Schema{root: root, raw: doc}, nil
}

// Raw returns the original schema document, suitable for publishing as a
// tool's input schema.
func (s *Schema) Raw() map[string]interface{} {
	return s.raw
}

func compileNode(doc map[string]interface{}, path string, depth int, problems *[]string) *node {
	n := &node{}
	if depth > maxDepth {
		*problems = append(*problems, fmt.Sprintf("%s: schema nesting exceeds %d levels", describePath(path), maxDepth))
		return n
	}

	if raw, ok := doc["type"]; ok {
		typ, ok := raw.(string)
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: type must be a string", describePath(path)))
		} else {
			switch typ {
			case "string", "number", "integer", "boolean", "object", "array", "null":
				n.typ = typ
			default:
				*problems = append(*problems, fmt.Sprintf("%s: unsupported type %q", describePath(path), typ))
			}
		}
	}

	if raw, ok := doc["properties"]; ok {
		props, ok := raw.(map[string]interface{})
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: properties must be an object", describePath(path)))
		} else {
			n.properties = make(map[string]*node, len(props))
			for name, sub := range props {
				subDoc, ok := sub.(map[string]interface{})
				if !ok {
					*problems = append(*problems, fmt.Sprintf("%s: property %q must be a schema object", describePath(path), name))
					continue
				}
				n.properties[name] = compileNode(subDoc, joinPath(path, name), depth+1, problems)
			}
			n.propOrder = make([]string, 0, len(n.properties))
			for name := range n.properties {
				n.propOrder = append(n.propOrder, name)
			}
			sort.Strings(n.propOrder)
		}
	}

	if raw, ok := doc["required"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: required must be an array of names", describePath(path)))
		} else {
			for _, item := range list {
				name, ok := item.(string)
				if !ok {
					*problems = append(*problems, fmt.Sprintf("%s: required entries must be strings", describePath(path)))
					continue
				}
				n.required = append(n.required, name)
				if n.properties != nil {
					if _, exists := n.properties[name]; !exists {
						*problems = append(*problems, fmt.Sprintf("%s: required name %q is not declared in properties", describePath(path), name))
					}
				}
			}
		}
	}

	if raw, ok := doc["additionalProperties"]; ok {
		allowed, ok := raw.(bool)
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: additionalProperties must be a boolean", describePath(path)))
		} else {
			n.additional = &allowed
		}
	}

	if raw, ok := doc["items"]; ok {
		itemDoc, ok := raw.(map[string]interface{})
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: items must be a schema object", describePath(path)))
		} else {
			n.items = compileNode(itemDoc, joinPath(path, "items"), depth+1, problems)
		}
	}

	if raw, ok := doc["enum"]; ok {
		list, ok := raw.([]interface{})
		if !ok || len(list) == 0 {
			*problems = append(*problems, fmt.Sprintf("%s: enum must be a non-empty array", describePath(path)))
		} else {
			n.enum = list
		}
	}

	n.minimum = compileNumber(doc, "minimum", path, problems)
	n.maximum = compileNumber(doc, "maximum", path, problems)
	if n.minimum != nil && n.maximum != nil && *n.minimum > *n.maximum {
		*problems = append(*problems, fmt.Sprintf("%s: minimum (%v) greater than maximum (%v)", describePath(path), *n.minimum, *n.maximum))
	}

	n.minLength = compileCount(doc, "minLength", path, problems)
	n.maxLength = compileCount(doc, "maxLength", path, problems)
	if n.minLength != nil && n.maxLength != nil && *n.minLength > *n.maxLength {
		*problems = append(*problems, fmt.Sprintf("%s: minLength (%d) greater than maxLength (%d)", describePath(path), *n.minLength, *n.maxLength))
	}

	n.minItems = compileCount(doc, "minItems", path, problems)
	n.maxItems = compileCount(doc, "maxItems", path, problems)
	if n.minItems != nil && n.maxItems != nil && *n.minItems > *n.maxItems {
		*problems = append(*problems, fmt.Sprintf("%s: minItems (%d) greater than maxItems (%d)", describePath(path), *n.minItems, *n.maxItems))
	}

	if raw, ok := doc["pattern"]; ok {
		src, ok := raw.(string)
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: pattern must be a string", describePath(path)))
		} else if compiled, err := regexp.Compile(src); err != nil {
			*problems = append(*problems, fmt.Sprintf("%s: invalid pattern %q: %v", describePath(path), src, err))
		} else {
			n.pattern = compiled
		}
	}

	if raw, ok := doc["format"]; ok {
		format, ok := raw.(string)
		if !ok {
			*problems = append(*problems, fmt.Sprintf("%s: format must be a string", describePath(path)))
		} else {
			switch format {
			case "email", "date", "date-time":
				n.format = format
			default:
				*problems = append(*problems, fmt.Sprintf("%s: unsupported format %q", describePath(path), format))
			}
		}
	}

	if raw, ok := doc["default"]; ok {
		n.defaultVal = raw
		n.hasDefault = true
	}

	return n
}

func compileNumber(doc map[string]interface{}, key, path string, problems *[]string) *float64 {
	raw, ok := doc[key]
	if !ok {
		return nil
	}
	f, ok := toNumber(raw)
	if !ok {
		*problems = append(*problems, fmt.Sprintf("%s: %s must be a number", describePath(path), key))
		return nil
	}
	return &f
}

func compileCount(doc map[string]interface{}, key, path string, problems *[]string) *int {
	raw, ok := doc[key]
	if !ok {
		return nil
	}
	f, ok := toNumber(raw)
	if !ok || f != math.Trunc(f) || f < 0 {
		*problems = append(*problems, fmt.Sprintf("%s: %s must be a non-negative integer", describePath(path), key))
		return nil
	}
	count := int(f)
	return &count
}

// Validate checks args against the schema and returns every issue found plus
// a copy of the arguments with defaults applied to missing optional fields.
// The input map is never mutated.
func (s *Schema) Validate(args map[string]interface{}) ([]Issue, map[string]interface{}) {
	if args == nil {
		args = map[string]interface{}{}
	}

	out, _ := cloneValue(args).(map[string]interface{})
	var issues []Issue
	validateObject(s.root, out, "", &issues)
	return issues, out
}

func validateNode(n *node, value interface{}, path string, issues *[]Issue) interface{} {
	if n.typ != "" && !typeMatches(n.typ, value) {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", n.typ, typeName(value)),
			Code:    CodeType,
		})
		return value
	}

	if n.enum != nil && !enumContains(n.enum, value) {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("value %v is not one of the allowed values", renderValue(value)),
			Code:    CodeEnum,
		})
	}

	switch v := value.(type) {
	case string:
		validateString(n, v, path, issues)
	case map[string]interface{}:
		validateObject(n, v, path, issues)
	case []interface{}:
		validateArray(n, v, path, issues)
	default:
		if f, ok := toNumber(value); ok {
			validateNumber(n, f, path, issues)
		}
	}
	return value
}

func validateObject(n *node, obj map[string]interface{}, path string, issues *[]Issue) {
	for _, name := range n.required {
		if _, present := obj[name]; !present {
			*issues = append(*issues, Issue{
				Path:    joinPath(path, name),
				Message: "missing required parameter",
				Code:    CodeRequired,
			})
		}
	}

	// Defaults fill absent optional fields before their subschemas run.
	for _, name := range n.propOrder {
		prop := n.properties[name]
		if _, present := obj[name]; !present && prop.hasDefault {
			obj[name] = cloneValue(prop.defaultVal)
		}
	}

	for _, name := range n.propOrder {
		prop := n.properties[name]
		if value, present := obj[name]; present {
			obj[name] = validateNode(prop, value, joinPath(path, name), issues)
		}
	}

	if n.additional != nil && !*n.additional {
		extras := make([]string, 0)
		for name := range obj {
			if _, known := n.properties[name]; !known {
				extras = append(extras, name)
			}
		}
		sort.Strings(extras)
		for _, name := range extras {
			*issues = append(*issues, Issue{
				Path:    joinPath(path, name),
				Message: "unknown parameter",
				Code:    CodeAdditional,
			})
		}
	}
}

func validateArray(n *node, arr []interface{}, path string, issues *[]Issue) {
	if n.minItems != nil && len(arr) < *n.minItems {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("expected at least %d items, got %d", *n.minItems, len(arr)),
			Code:    CodeMinItems,
		})
	}
	if n.maxItems != nil && len(arr) > *n.maxItems {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("expected at most %d items, got %d", *n.maxItems, len(arr)),
			Code:    CodeMaxItems,
		})
	}
	if n.items != nil {
		for i, item := range arr {
			arr[i] = validateNode(n.items, item, joinPath(path, strconv.Itoa(i)), issues)
		}
	}
}

func validateString(n *node, s string, path string, issues *[]Issue) {
	length := len([]rune(s))
	if n.minLength != nil && length < *n.minLength {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("length %d is less than minLength %d", length, *n.minLength),
			Code:    CodeMinLength,
		})
	}
	if n.maxLength != nil && length > *n.maxLength {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("length %d exceeds maxLength %d", length, *n.maxLength),
			Code:    CodeMaxLength,
		})
	}
	if n.pattern != nil && !n.pattern.MatchString(s) {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("value does not match pattern %q", n.pattern.String()),
			Code:    CodePattern,
		})
	}
	if n.format != "" && !formatMatches(n.format, s) {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("value is not a valid %s", n.format),
			Code:    CodeFormat,
		})
	}
}

func validateNumber(n *node, f float64, path string, issues *[]Issue) {
	if n.minimum != nil && f < *n.minimum {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("value %v is less than minimum %v", f, *n.minimum),
			Code:    CodeMinimum,
		})
	}
	if n.maximum != nil && f > *n.maximum {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("value %v exceeds maximum %v", f, *n.maximum),
			Code:    CodeMaximum,
		})
	}
}

func typeMatches(typ string, value interface{}) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := toNumber(value)
		return ok
	case "integer":
		f, ok := toNumber(value)
		return ok && f == math.Trunc(f)
	default:
		return false
	}
}

func typeName(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		if _, ok := toNumber(value); ok {
			return "number"
		}
		return reflect.TypeOf(value).String()
	}
}

// toNumber accepts the numeric shapes JSON decoding and Go callers produce.
func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, allowed := range enum {
		if reflect.DeepEqual(allowed, value) {
			return true
		}
		// 2 and 2.0 are the same JSON value.
		af, aok := toNumber(allowed)
		vf, vok := toNumber(value)
		if aok && vok && af == vf {
			return true
		}
	}
	return false
}

func formatMatches(format, s string) bool {
	switch format {
	case "email":
		return emailPattern.MatchString(s)
	case "date":
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	case "date-time":
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	default:
		return true
	}
}

func renderValue(value interface{}) string {
	if s, ok := value.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", value)
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func describePath(path string) string {
	if path == "" {
		return "schema"
	}
	return path
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
