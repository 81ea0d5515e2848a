// Package strings holds small string-formatting helpers shared by anything
// that renders MilkCheck state for a human or a log line: nodeset strings in
// pkg/logging, and the TARGET column of internal/report's status table.
package strings

import (
	"strings"
)

// DefaultMaxLen is the column width callers reach for when they don't have
// a more specific budget of their own (a target cell, a log field).
const DefaultMaxLen = 60

// MinTruncateLen is the smallest maxLen TruncateDescription honors — below
// it there isn't room for one real character plus the "..." suffix.
const MinTruncateLen = 4

// TruncateDescription folds s onto one line (newlines and repeated
// whitespace collapse to single spaces) and caps it at maxLen runes,
// appending "..." when something had to go. Operating on runes rather than
// bytes keeps multi-byte characters from being split mid-sequence.
// maxLen below MinTruncateLen is raised to MinTruncateLen.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	// strings.Fields splits on any run of whitespace (space, tab, \n, \r),
	// so rejoining with single spaces both flattens and collapses in one pass.
	flattened := strings.Join(strings.Fields(s), " ")

	runes := []rune(flattened)
	if len(runes) <= maxLen {
		return flattened
	}
	return string(runes[:maxLen-3]) + "..."
}
