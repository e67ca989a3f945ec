package tags

import "strings"

// Strip removes every tag marker from the whole text.
func Strip(text string) string {
	return tagPattern.ReplaceAllString(text, "")
}

// Unchanged reports whether original and updated differ only in their tag
// markers. Both sides have every [[...]] removed and surrounding whitespace
// trimmed before comparison. The whole document is compared, never a window.
//
// Whitespace left behind where an inline marker was removed is compared as
// is, so "a [[x]] b" and "a  b" are equal but "a b" is not.
func Unchanged(original, updated string) bool {
	return strings.TrimSpace(Strip(original)) == strings.TrimSpace(Strip(updated))
}
