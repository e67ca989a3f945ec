package tags

import (
	"strings"
	"unicode"
)

// Format renders tags as a trailing block, one [[tag]] per line.
func Format(tags []string) string {
	lines := make([]string, len(tags))
	for i, tag := range tags {
		lines[i] = "[[" + tag + "]]"
	}
	return strings.Join(lines, "\n")
}

// Repair rewrites text so that it carries exactly the given tags. Every
// existing marker (with its trailing newline) is removed, trailing whitespace
// is trimmed, and the tags are appended after a blank line. With no tags the
// trimmed body is returned as is.
func Repair(text string, valid []string) string {
	body := strings.TrimRightFunc(repairPattern.ReplaceAllString(text, ""), unicode.IsSpace)
	if len(valid) == 0 {
		return body
	}
	return body + "\n\n" + Format(valid)
}
