package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, doc map[string]interface{}) *Schema {
	t.Helper()
	s, err := Compile(doc)
	require.NoError(t, err)
	return s
}

func issueCodes(issues []Issue) []string {
	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestCompileRejectsInconsistentSchemas(t *testing.T) {
	tests := []struct {
		name     string
		doc      map[string]interface{}
		expected string
	}{
		{
			name: "minimum greater than maximum",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"age": map[string]interface{}{"type": "number", "minimum": float64(10), "maximum": float64(5)},
				},
			},
			expected: "minimum (10) greater than maximum (5)",
		},
		{
			name: "minLength greater than maxLength",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "minLength": float64(9), "maxLength": float64(3)},
				},
			},
			expected: "minLength (9) greater than maxLength (3)",
		},
		{
			name: "minItems greater than maxItems",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tags": map[string]interface{}{"type": "array", "minItems": float64(4), "maxItems": float64(2)},
				},
			},
			expected: "minItems (4) greater than maxItems (2)",
		},
		{
			name: "required name not declared",
			doc: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"a", "ghost"},
			},
			expected: `required name "ghost" is not declared`,
		},
		{
			name:     "non-object top level",
			doc:      map[string]interface{}{"type": "string"},
			expected: "top-level schema must describe an object",
		},
		{
			name: "invalid pattern",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"x": map[string]interface{}{"type": "string", "pattern": "("},
				},
			},
			expected: "invalid pattern",
		},
		{
			name: "unsupported type",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"x": map[string]interface{}{"type": "decimal"},
				},
			},
			expected: `unsupported type "decimal"`,
		},
		{
			name: "unsupported format",
			doc: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"x": map[string]interface{}{"type": "string", "format": "uuid"},
				},
			},
			expected: `unsupported format "uuid"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestCompileAggregatesProblems(t *testing.T) {
	_, err := Compile(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "number", "minimum": float64(2), "maximum": float64(1)},
			"b": map[string]interface{}{"type": "string", "pattern": "("},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum (2) greater than maximum (1)")
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestCompileAcceptsImplicitObject(t *testing.T) {
	// A top level without an explicit type but with properties is an object.
	s := mustCompile(t, map[string]interface{}{
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string"},
		},
	})

	issues, _ := s.Validate(map[string]interface{}{"q": "x"})
	assert.Empty(t, issues)
}

func TestValidateTypes(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"s":    map[string]interface{}{"type": "string"},
			"n":    map[string]interface{}{"type": "number"},
			"i":    map[string]interface{}{"type": "integer"},
			"b":    map[string]interface{}{"type": "boolean"},
			"o":    map[string]interface{}{"type": "object"},
			"a":    map[string]interface{}{"type": "array"},
			"null": map[string]interface{}{"type": "null"},
		},
	})

	t.Run("all valid", func(t *testing.T) {
		issues, _ := s.Validate(map[string]interface{}{
			"s":    "x",
			"n":    2.5,
			"i":    float64(3),
			"b":    true,
			"o":    map[string]interface{}{},
			"a":    []interface{}{},
			"null": nil,
		})
		assert.Empty(t, issues)
	})

	t.Run("mismatches aggregate", func(t *testing.T) {
		issues, _ := s.Validate(map[string]interface{}{
			"s": float64(1),
			"n": "two",
			"i": 2.5,
			"b": "yes",
		})
		require.Len(t, issues, 4)
		for _, issue := range issues {
			assert.Equal(t, CodeType, issue.Code)
		}
	})

	t.Run("go ints count as numbers", func(t *testing.T) {
		issues, _ := s.Validate(map[string]interface{}{"n": 5, "i": int64(7)})
		assert.Empty(t, issues)
	})
}

func TestValidateRequiredAndDefaults(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"limit": map[string]interface{}{"type": "integer", "default": float64(10)},
			"opts": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"verbose": map[string]interface{}{"type": "boolean", "default": false},
				},
			},
		},
		"required": []interface{}{"query"},
	})

	t.Run("missing required", func(t *testing.T) {
		issues, _ := s.Validate(map[string]interface{}{})
		require.Len(t, issues, 1)
		assert.Equal(t, "query", issues[0].Path)
		assert.Equal(t, CodeRequired, issues[0].Code)
		assert.Equal(t, "missing required parameter", issues[0].Message)
	})

	t.Run("default applied", func(t *testing.T) {
		args := map[string]interface{}{"query": "x"}
		issues, out := s.Validate(args)
		assert.Empty(t, issues)
		assert.Equal(t, float64(10), out["limit"])
		// Input is never mutated.
		_, present := args["limit"]
		assert.False(t, present)
	})

	t.Run("explicit value wins over default", func(t *testing.T) {
		issues, out := s.Validate(map[string]interface{}{"query": "x", "limit": float64(3)})
		assert.Empty(t, issues)
		assert.Equal(t, float64(3), out["limit"])
	})

	t.Run("nested default applied when parent present", func(t *testing.T) {
		issues, out := s.Validate(map[string]interface{}{"query": "x", "opts": map[string]interface{}{}})
		assert.Empty(t, issues)
		opts := out["opts"].(map[string]interface{})
		assert.Equal(t, false, opts["verbose"])
	})

	t.Run("nested default not applied when parent absent", func(t *testing.T) {
		issues, out := s.Validate(map[string]interface{}{"query": "x"})
		assert.Empty(t, issues)
		_, present := out["opts"]
		assert.False(t, present)
	})
}

func TestValidateBounds(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"age":  map[string]interface{}{"type": "number", "minimum": float64(0), "maximum": float64(120)},
			"name": map[string]interface{}{"type": "string", "minLength": float64(2), "maxLength": float64(5)},
			"tags": map[string]interface{}{"type": "array", "minItems": float64(1), "maxItems": float64(2), "items": map[string]interface{}{"type": "string"}},
		},
	})

	tests := []struct {
		name  string
		args  map[string]interface{}
		codes []string
	}{
		{"in bounds", map[string]interface{}{"age": float64(30), "name": "abc", "tags": []interface{}{"a"}}, nil},
		{"below minimum", map[string]interface{}{"age": float64(-1)}, []string{CodeMinimum}},
		{"above maximum", map[string]interface{}{"age": float64(130)}, []string{CodeMaximum}},
		{"too short", map[string]interface{}{"name": "a"}, []string{CodeMinLength}},
		{"too long", map[string]interface{}{"name": "abcdef"}, []string{CodeMaxLength}},
		{"too few items", map[string]interface{}{"tags": []interface{}{}}, []string{CodeMinItems}},
		{"too many items", map[string]interface{}{"tags": []interface{}{"a", "b", "c"}}, []string{CodeMaxItems}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, _ := s.Validate(tt.args)
			assert.Equal(t, tt.codes, func() []string {
				if len(issues) == 0 {
					return nil
				}
				return issueCodes(issues)
			}())
		})
	}
}

func TestValidateItemsPath(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	})

	issues, _ := s.Validate(map[string]interface{}{"tags": []interface{}{"ok", float64(3)}})
	require.Len(t, issues, 1)
	assert.Equal(t, "tags.1", issues[0].Path)
	assert.Equal(t, CodeType, issues[0].Code)
}

func TestValidateEnum(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"mode":  map[string]interface{}{"type": "string", "enum": []interface{}{"fast", "slow"}},
			"level": map[string]interface{}{"type": "integer", "enum": []interface{}{float64(1), float64(2)}},
		},
	})

	issues, _ := s.Validate(map[string]interface{}{"mode": "fast", "level": 2})
	assert.Empty(t, issues)

	issues, _ = s.Validate(map[string]interface{}{"mode": "medium"})
	require.Len(t, issues, 1)
	assert.Equal(t, CodeEnum, issues[0].Code)
	assert.Equal(t, "mode", issues[0].Path)
}

func TestValidatePatternAndFormats(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code":  map[string]interface{}{"type": "string", "pattern": "^[A-Z]{3}$"},
			"email": map[string]interface{}{"type": "string", "format": "email"},
			"day":   map[string]interface{}{"type": "string", "format": "date"},
			"at":    map[string]interface{}{"type": "string", "format": "date-time"},
		},
	})

	t.Run("valid values", func(t *testing.T) {
		issues, _ := s.Validate(map[string]interface{}{
			"code":  "ABC",
			"email": "a@b.co",
			"day":   "2024-02-29",
			"at":    "2024-02-29T10:00:00Z",
		})
		assert.Empty(t, issues)
	})

	tests := []struct {
		name string
		args map[string]interface{}
		code string
	}{
		{"pattern mismatch", map[string]interface{}{"code": "abc"}, CodePattern},
		{"bad email", map[string]interface{}{"email": "not-an-email"}, CodeFormat},
		{"bad date", map[string]interface{}{"day": "2024-13-01"}, CodeFormat},
		{"bad date-time", map[string]interface{}{"at": "2024-02-29 10:00"}, CodeFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, _ := s.Validate(tt.args)
			require.Len(t, issues, 1)
			assert.Equal(t, tt.code, issues[0].Code)
		})
	}
}

func TestValidateAdditionalProperties(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"known": map[string]interface{}{"type": "string"},
		},
		"additionalProperties": false,
	})

	issues, _ := s.Validate(map[string]interface{}{"known": "x", "extra": float64(1), "another": true})
	require.Len(t, issues, 2)
	assert.Equal(t, "another", issues[0].Path)
	assert.Equal(t, "extra", issues[1].Path)
	for _, issue := range issues {
		assert.Equal(t, CodeAdditional, issue.Code)
		assert.Equal(t, "unknown parameter", issue.Message)
	}
}

func TestValidateNestedPaths(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "minLength": float64(2)},
				},
				"required": []interface{}{"name"},
			},
		},
	})

	issues, _ := s.Validate(map[string]interface{}{
		"user": map[string]interface{}{"name": "a"},
	})
	require.Len(t, issues, 1)
	assert.Equal(t, "user.name", issues[0].Path)

	issues, _ = s.Validate(map[string]interface{}{"user": map[string]interface{}{}})
	require.Len(t, issues, 1)
	assert.Equal(t, "user.name", issues[0].Path)
	assert.Equal(t, CodeRequired, issues[0].Code)
}

func TestValidateNilArgs(t *testing.T) {
	s := mustCompile(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer", "default": float64(1)},
		},
	})

	issues, out := s.Validate(nil)
	assert.Empty(t, issues)
	assert.Equal(t, float64(1), out["limit"])
}

func TestRawRoundTrip(t *testing.T) {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string"},
		},
	}

	s := mustCompile(t, doc)
	assert.Equal(t, doc, s.Raw())
}
