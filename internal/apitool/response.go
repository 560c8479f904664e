package apitool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// decodeBody decodes an upstream body as JSON, falling back to the raw text
// for non-JSON replies.
func decodeBody(body []byte) interface{} {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return trimmed
	}
	return decoded
}

// successful reports whether the reply counts as a success: the configured
// condition evaluated on the decoded body when one is set, plain HTTP 2xx
// otherwise.
func (t *Tool) successful(status int, decoded interface{}) bool {
	if t.condition == nil {
		return status >= 200 && status < 300
	}
	out, err := t.condition.Eval(decoded)
	if err != nil {
		return false
	}
	return truthy(out)
}

// errorText extracts the failure message from an error reply: the value at
// the configured error path when it resolves, the body otherwise.
func (t *Tool) errorText(status int, body []byte, decoded interface{}) string {
	if t.errorPath != "" && decoded != nil {
		if v, err := jsonpath.Get(t.errorPath, decoded); err == nil {
			return stringifyResult(v)
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("upstream returned HTTP %d", status)
	}
	return text
}

// shape runs the configured JSONata transform and serializes the result for
// the text block.
func (t *Tool) shape(decoded interface{}) (string, error) {
	if t.transform == nil {
		return stringifyResult(decoded), nil
	}
	out, err := t.transform.Eval(decoded)
	if err != nil {
		return "", err
	}
	return stringifyResult(out), nil
}

// truthy follows JSONata result semantics: false, null, zero, the empty
// string, and empty collections are falsy.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	default:
		return true
	}
}

// stringifyResult renders a value for a text content block. Strings pass
// through; everything else is JSON-serialized.
func stringifyResult(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}
