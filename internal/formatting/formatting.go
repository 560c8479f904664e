// Package formatting renders CLI listings in the output formats the hub
// commands support: a go-pretty table for humans, JSON or YAML for
// scripts.
package formatting

import (
	"fmt"
	"io"
	"strings"
)

// Format selects the output representation.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted --output values.
func Formats() []string {
	return []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
}

// ParseFormat validates an --output flag value. Empty selects the table.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: %s)", s, strings.Join(Formats(), ", "))
	}
}

// Listing is one renderable resource listing. Header and Rows feed the
// table form, Items is the structured form JSON and YAML marshal, and
// Empty is printed instead of an empty table.
type Listing struct {
	Header []string
	Rows   [][]string
	Items  interface{}
	Empty  string
}

// Renderer writes a listing to an output stream in one format.
type Renderer interface {
	Render(out io.Writer, l Listing) error
}

// NewRenderer returns the renderer for the given format.
func NewRenderer(format Format) Renderer {
	switch format {
	case FormatJSON:
		return jsonRenderer{}
	case FormatYAML:
		return yamlRenderer{}
	default:
		return tableRenderer{}
	}
}
