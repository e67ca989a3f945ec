// Package tags implements the tag marker grammar used by sage.
//
// A tag is serialized as [[identifier]] on its own line in a trailing block
// at the end of a markdown document. This package extracts tags, classifies
// them against the grammar, checks that two document versions differ only in
// their tags, and rewrites a document to carry a given tag set.
package tags

import (
	"regexp"
	"strings"
)

// ReservedTag marks a document as previously processed. It is always valid.
const ReservedTag = "claude"

// Window is the number of trailing lines the validator scans.
const Window = 20

// fenceMarker opens or closes a fenced code region.
const fenceMarker = "```"

// forbiddenChars are shell and quoting characters that indicate the external
// tool emitted a command or sentence instead of a tag.
const forbiddenChars = "$\"'();|&=*!?"

var (
	tagPattern    = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	identPattern  = regexp.MustCompile(`^[a-z0-9-]+$`)
	repairPattern = regexp.MustCompile(`\[\[[^\]]+\]\]\n?`)
)

// Verdict is the classification of a single tag candidate.
type Verdict int

const (
	// VerdictValid accepts the tag.
	VerdictValid Verdict = iota
	// VerdictReserved accepts the reserved marker unconditionally.
	VerdictReserved
	// VerdictForbiddenChar rejects tags carrying shell or quoting characters.
	VerdictForbiddenChar
	// VerdictContainsSpace rejects multi-word tags.
	VerdictContainsSpace
	// VerdictUppercase rejects tags that are not already lowercase.
	VerdictUppercase
	// VerdictBadCharset rejects anything outside [a-z0-9-].
	VerdictBadCharset
)

// Valid reports whether the verdict accepts the tag.
func (v Verdict) Valid() bool {
	return v == VerdictValid || v == VerdictReserved
}

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictReserved:
		return "reserved"
	case VerdictForbiddenChar:
		return "forbidden_char"
	case VerdictContainsSpace:
		return "contains_space"
	case VerdictUppercase:
		return "uppercase"
	case VerdictBadCharset:
		return "bad_charset"
	default:
		return "unknown"
	}
}

// Classify applies the tag grammar to one candidate. The checks run in a
// fixed order and the first failing check decides the verdict.
func Classify(tag string) Verdict {
	if tag == ReservedTag {
		return VerdictReserved
	}
	if strings.ContainsAny(tag, forbiddenChars) {
		return VerdictForbiddenChar
	}
	if strings.Contains(tag, " ") {
		return VerdictContainsSpace
	}
	if tag != strings.ToLower(tag) {
		return VerdictUppercase
	}
	if !identPattern.MatchString(tag) {
		return VerdictBadCharset
	}
	return VerdictValid
}

// IsValid is shorthand for Classify(tag).Valid().
func IsValid(tag string) bool {
	return Classify(tag).Valid()
}

// Validate extracts the tags from the trailing window of text and splits
// them into valid and invalid lists. Order of appearance and duplicates are
// preserved. Tags inside fenced code are ignored.
func Validate(text string) (valid, invalid []string) {
	valid = []string{}
	invalid = []string{}

	for _, tag := range extract(scanWindow(text)) {
		if Classify(tag).Valid() {
			valid = append(valid, tag)
		} else {
			invalid = append(invalid, tag)
		}
	}
	return valid, invalid
}

// ExtractAll returns every tag in the whole document, with no windowing and
// no code fence filtering.
func ExtractAll(text string) []string {
	return extract(text)
}

// Existing returns the whole-document tags other than the reserved marker.
// A non-empty result means the document has already been tagged.
func Existing(text string) []string {
	out := []string{}
	for _, tag := range extract(text) {
		if tag != ReservedTag {
			out = append(out, tag)
		}
	}
	return out
}

// scanWindow returns the last Window lines of text with fenced code removed.
func scanWindow(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > Window {
		lines = lines[len(lines)-Window:]
	}

	kept := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
			inFence = !inFence
			continue
		}
		if !inFence {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func extract(text string) []string {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
