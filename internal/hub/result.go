package hub

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Block kinds. Text is the only kind the hub interprets; every other
// content kind crosses the hub untouched in Raw.
const (
	BlockText     = "text"
	BlockImage    = "image"
	BlockAudio    = "audio"
	BlockResource = "resource"
	BlockOpaque   = "opaque"
)

// Block is one unit of tool output.
type Block struct {
	Kind string      `json:"kind"`
	Text string      `json:"text,omitempty"`
	Raw  interface{} `json:"raw,omitempty"`
}

// ToolResult is the transport-neutral outcome of one tool call.
type ToolResult struct {
	Content []Block `json:"content"`
	IsError bool    `json:"isError"`
}

// TextResult builds a successful single-text result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []Block{{Kind: BlockText, Text: text}}}
}

// ErrorResult builds a failed single-text result.
func ErrorResult(text string) ToolResult {
	return ToolResult{Content: []Block{{Kind: BlockText, Text: text}}, IsError: true}
}

// FirstText returns the first text block, or "" when there is none.
func (r ToolResult) FirstText() string {
	for _, block := range r.Content {
		if block.Kind == BlockText {
			return block.Text
		}
	}
	return ""
}

// FromMCP converts a backend call result into the hub shape.
func FromMCP(result *mcp.CallToolResult) ToolResult {
	if result == nil {
		return ToolResult{}
	}
	out := ToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			out.Content = append(out.Content, Block{Kind: BlockText, Text: v.Text})
		case mcp.ImageContent:
			out.Content = append(out.Content, Block{Kind: BlockImage, Raw: v})
		case mcp.AudioContent:
			out.Content = append(out.Content, Block{Kind: BlockAudio, Raw: v})
		case mcp.EmbeddedResource:
			out.Content = append(out.Content, Block{Kind: BlockResource, Raw: v})
		default:
			out.Content = append(out.Content, Block{Kind: BlockOpaque, Raw: content})
		}
	}
	return out
}

// ToMCP converts back to the wire type. Raw blocks that did not come from
// the mcp type system render as JSON text.
func (r ToolResult) ToMCP() *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(r.Content))
	for _, block := range r.Content {
		if block.Kind == BlockText {
			content = append(content, mcp.NewTextContent(block.Text))
			continue
		}
		if c, ok := block.Raw.(mcp.Content); ok {
			content = append(content, c)
			continue
		}
		encoded, err := json.Marshal(block.Raw)
		if err != nil {
			continue
		}
		content = append(content, mcp.NewTextContent(string(encoded)))
	}
	return &mcp.CallToolResult{Content: content, IsError: r.IsError}
}
