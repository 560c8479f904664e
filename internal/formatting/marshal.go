package formatting

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// jsonRenderer marshals the structured items with two-space indentation.
type jsonRenderer struct{}

func (jsonRenderer) Render(out io.Writer, l Listing) error {
	b, err := json.MarshalIndent(l.Items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render JSON: %w", err)
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

// yamlRenderer marshals the structured items as one YAML document.
type yamlRenderer struct{}

func (yamlRenderer) Render(out io.Writer, l Listing) error {
	b, err := yaml.Marshal(l.Items)
	if err != nil {
		return fmt.Errorf("failed to render YAML: %w", err)
	}
	_, err = out.Write(b)
	return err
}
