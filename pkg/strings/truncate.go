// Package strings carries small string helpers shared by the CLI
// renderers.
package strings

import "strings"

// DefaultDescriptionMaxLen is the column width listings truncate
// descriptions to.
const DefaultDescriptionMaxLen = 60

// minTruncateLen leaves room for at least one character plus the ellipsis.
const minTruncateLen = 4

// TruncateDescription collapses s to a single line and truncates it to
// maxLen runes, appending "..." when content was cut. Operating on runes
// keeps multi-byte characters intact.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
