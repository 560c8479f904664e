package formatting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// tableRenderer renders listings as rounded go-pretty tables.
type tableRenderer struct{}

func (tableRenderer) Render(out io.Writer, l Listing) error {
	if len(l.Rows) == 0 {
		if l.Empty != "" {
			fmt.Fprintln(out, l.Empty)
		}
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(l.Header))
	for i, col := range l.Header {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, row := range l.Rows {
		cells := make(table.Row, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		t.AppendRow(cells)
	}

	t.Render()
	return nil
}
