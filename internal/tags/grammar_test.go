package tags

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		tag  string
		want Verdict
	}{
		{"python", VerdictValid},
		{"test-case", VerdictValid},
		{"web3", VerdictValid},
		{"claude", VerdictReserved},
		{"Python", VerdictUppercase},
		{"JAVASCRIPT", VerdictUppercase},
		{"valid tag", VerdictContainsSpace},
		{"ls -la", VerdictContainsSpace},
		{`echo "hi"`, VerdictForbiddenChar},
		{"$variable", VerdictForbiddenChar},
		{"a=b", VerdictForbiddenChar},
		{"what?", VerdictForbiddenChar},
		{"snake_case", VerdictBadCharset},
		{"dotted.tag", VerdictBadCharset},
		{"", VerdictBadCharset},
		{"programmering", VerdictValid},
		{"feilsøking", VerdictBadCharset},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.tag), func(t *testing.T) {
			got := Classify(tt.tag)
			assert.Equal(t, tt.want, got, "verdict %s", got)
			assert.Equal(t, tt.want.Valid(), IsValid(tt.tag))
		})
	}
}

func TestValidate_ValidTags(t *testing.T) {
	content := `# Test File

Some content here.

[[python]]
[[programming]]
[[test-case]]
[[claude]]`

	valid, invalid := Validate(content)

	if diff := cmp.Diff([]string{"python", "programming", "test-case", "claude"}, valid); diff != "" {
		t.Errorf("valid tags mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, invalid)
}

func TestValidate_InvalidTags(t *testing.T) {
	content := `# Test File

Content here.

[[echo "hello"]]
[[ls -la]]
[[python]]
[[$variable]]
[[Python]]
[[valid tag]]`

	valid, invalid := Validate(content)

	assert.Equal(t, []string{"python"}, valid)
	assert.Equal(t, []string{`echo "hello"`, "ls -la", "$variable", "Python", "valid tag"}, invalid)
}

func TestValidate_DuplicatesPreserved(t *testing.T) {
	valid, invalid := Validate("body\n\n[[go]]\n[[Go]]\n[[go]]")

	assert.Equal(t, []string{"go", "go"}, valid)
	assert.Equal(t, []string{"Go"}, invalid)
}

func TestValidate_IgnoresFencedCode(t *testing.T) {
	content := "# Test File\n\nHere's some code:\n\n```bash\necho \"[[not-a-tag]]\"\n```\n\nAnd some more content with [[actual-tag]] at the end.\n\n[[python]]"

	valid, invalid := Validate(content)

	assert.Equal(t, []string{"actual-tag", "python"}, valid)
	assert.NotContains(t, valid, "not-a-tag")
	assert.NotContains(t, invalid, "not-a-tag")
}

func TestValidate_FencedAndUnfencedOccurrence(t *testing.T) {
	content := "intro\n```\n[[shared]]\n[[Hidden]]\n```\n\n[[shared]]"

	valid, invalid := Validate(content)

	assert.Equal(t, []string{"shared"}, valid)
	assert.Empty(t, invalid)
}

func TestValidate_UnclosedFenceStaysOpen(t *testing.T) {
	content := "intro\n\n[[before]]\n```go\n[[inside]]\n[[Also-Inside]]"

	valid, invalid := Validate(content)

	assert.Equal(t, []string{"before"}, valid)
	assert.Empty(t, invalid)
}

func TestValidate_IndentedFence(t *testing.T) {
	content := "text\n  ```\n[[inside]]\n  ```\n[[outside]]"

	valid, _ := Validate(content)
	assert.Equal(t, []string{"outside"}, valid)
}

func TestValidate_Window(t *testing.T) {
	lines := make([]string, 100)
	lines[0] = "[[early]]"
	for i := 1; i < len(lines); i++ {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	lines[99] = "[[late]]"
	doc := strings.Join(lines, "\n")

	valid, invalid := Validate(doc)
	assert.Equal(t, []string{"late"}, valid)
	assert.Empty(t, invalid)

	// The whole-document extractor and the integrity checker still see it.
	assert.Equal(t, []string{"early", "late"}, ExtractAll(doc))
	assert.NotContains(t, Strip(doc), "[[early]]")
}

func TestValidate_WindowBoundary(t *testing.T) {
	lines := make([]string, Window+1)
	for i := range lines {
		lines[i] = fmt.Sprintf("[[tag-%d]]", i)
	}

	valid, _ := Validate(strings.Join(lines, "\n"))

	assert.Len(t, valid, Window)
	assert.Equal(t, "tag-1", valid[0])
	assert.Equal(t, fmt.Sprintf("tag-%d", Window), valid[len(valid)-1])
}

func TestValidate_EmptyDocument(t *testing.T) {
	valid, invalid := Validate("")
	assert.NotNil(t, valid)
	assert.NotNil(t, invalid)
	assert.Empty(t, valid)
	assert.Empty(t, invalid)
}

func TestValidate_EmptyBracketsNotExtracted(t *testing.T) {
	valid, invalid := Validate("text\n\n[[]]\n[[ok]]")
	assert.Equal(t, []string{"ok"}, valid)
	assert.Empty(t, invalid)
}

func TestExisting_ExcludesReserved(t *testing.T) {
	doc := "# Notes\n\nbody [[inline]]\n\n[[claude]]\n[[go]]"

	assert.Equal(t, []string{"inline", "go"}, Existing(doc))
	assert.Empty(t, Existing("# Notes\n\n[[claude]]"))
	assert.Empty(t, Existing("no tags at all"))
}
