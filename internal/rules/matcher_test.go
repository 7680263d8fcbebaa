package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRule(name string, inclusion Inclusion, pattern string, enabled bool) *Rule {
	return &Rule{
		Name:             name,
		Description:      "test rule",
		Content:          "content of " + name,
		Scope:            ScopeUser,
		Inclusion:        inclusion,
		FileMatchPattern: pattern,
		Priority:         50,
		Enabled:          enabled,
	}
}

func TestMatchAlways(t *testing.T) {
	matcher := NewMatcher()

	matched, skipped := matcher.MatchRules([]*Rule{testRule("a", InclusionAlways, "", true)}, MatchContext{})

	require.Len(t, matched, 1)
	assert.Empty(t, skipped)
	assert.Contains(t, matched[0].MatchReason, "always")
}

func TestMatchManual(t *testing.T) {
	matcher := NewMatcher()
	rule := testRule("my-rule", InclusionManual, "", true)

	matched, skipped := matcher.MatchRules([]*Rule{rule}, MatchContext{ManualRules: []string{"my-rule"}})
	require.Len(t, matched, 1)
	assert.Empty(t, skipped)
	assert.Contains(t, matched[0].MatchReason, "@my-rule")

	matched, skipped = matcher.MatchRules([]*Rule{rule}, MatchContext{})
	assert.Empty(t, matched)
	require.Len(t, skipped, 1)
	assert.Equal(t, "my-rule", skipped[0].Name)
}

func TestMatchFilePattern(t *testing.T) {
	matcher := NewMatcher()
	rule := testRule("go-style", InclusionFileMatch, "*.go", true)

	matched, _ := matcher.MatchRules([]*Rule{rule}, MatchContext{
		CurrentFiles: []string{"cmd/main.go", "README.md"},
	})
	require.Len(t, matched, 1)
	assert.Equal(t, []string{"cmd/main.go"}, matched[0].MatchedFiles, "basename matching applies")

	matched, skipped := matcher.MatchRules([]*Rule{rule}, MatchContext{
		CurrentFiles: []string{"README.md", "notes.txt"},
	})
	assert.Empty(t, matched)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Reason, "no files match")
}

func TestMatchFilePatternDoublestar(t *testing.T) {
	matcher := NewMatcher()
	rule := testRule("deep", InclusionFileMatch, "src/**/*.py", true)

	matched, _ := matcher.MatchRules([]*Rule{rule}, MatchContext{
		CurrentFiles: []string{"src/pkg/deep/mod.py"},
	})
	require.Len(t, matched, 1)
}

func TestMatchFilePatternWithoutPattern(t *testing.T) {
	matcher := NewMatcher()
	rule := testRule("broken", InclusionFileMatch, "", true)

	matched, skipped := matcher.MatchRules([]*Rule{rule}, MatchContext{CurrentFiles: []string{"a.go"}})
	assert.Empty(t, matched)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Reason, "no pattern")
}

func TestSkipDisabled(t *testing.T) {
	matcher := NewMatcher()
	rule := testRule("off", InclusionAlways, "", false)

	matched, skipped := matcher.MatchRules([]*Rule{rule}, MatchContext{})
	assert.Empty(t, matched)
	require.Len(t, skipped, 1)
	assert.Equal(t, "disabled", skipped[0].Reason)
}
