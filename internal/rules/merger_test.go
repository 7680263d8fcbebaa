package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeRule(name string, scope Scope, priority int, override bool, content string) Match {
	rule := &Rule{
		Name:        name,
		Description: "test",
		Content:     content,
		Scope:       scope,
		Inclusion:   InclusionAlways,
		Priority:    priority,
		Override:    override,
		Enabled:     true,
	}
	return Match{Rule: rule, RuleName: name, RuleScope: scope, MatchReason: "inclusion mode is 'always'"}
}

func names(rules []*Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func TestMergeScopeOrdering(t *testing.T) {
	merger := NewMerger(0)

	final, conflicts := merger.MergeRules([]Match{
		mergeRule("g", ScopeGlobal, 50, false, "g"),
		mergeRule("p", ScopeProject, 50, false, "p"),
		mergeRule("u", ScopeUser, 50, false, "u"),
		mergeRule("s", ScopeSession, 50, false, "s"),
	})

	require.Empty(t, conflicts)
	assert.Equal(t, []string{"s", "p", "u", "g"}, names(final))
}

func TestMergePriorityOrderingWithinScope(t *testing.T) {
	merger := NewMerger(0)

	final, _ := merger.MergeRules([]Match{
		mergeRule("low", ScopeUser, 10, false, "x"),
		mergeRule("high", ScopeUser, 90, false, "x"),
		mergeRule("mid", ScopeUser, 50, false, "x"),
	})

	assert.Equal(t, []string{"high", "mid", "low"}, names(final))
}

func TestMergeNameTiebreak(t *testing.T) {
	merger := NewMerger(0)

	final, _ := merger.MergeRules([]Match{
		mergeRule("zeta", ScopeUser, 50, false, "x"),
		mergeRule("alpha", ScopeUser, 50, false, "x"),
	})

	assert.Equal(t, []string{"alpha", "zeta"}, names(final))
}

func TestMergeSameNameHigherScopeWins(t *testing.T) {
	merger := NewMerger(0)

	final, conflicts := merger.MergeRules([]Match{
		mergeRule("shared", ScopeUser, 50, false, "user version"),
		mergeRule("shared", ScopeProject, 50, false, "project version"),
	})

	require.Len(t, final, 1)
	assert.Equal(t, "project version", final[0].Content)
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0].Reason, "precedence")
}

func TestMergeOverrideWins(t *testing.T) {
	merger := NewMerger(0)

	final, conflicts := merger.MergeRules([]Match{
		mergeRule("shared", ScopeProject, 50, false, "project version"),
		mergeRule("shared", ScopeUser, 50, true, "user override version"),
	})

	require.Len(t, final, 1)
	assert.Equal(t, "user override version", final[0].Content)
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0].Reason, "override")
}

func TestMergeSizeBudgetTrimsLowestPriority(t *testing.T) {
	merger := NewMerger(25)

	final, _ := merger.MergeRules([]Match{
		mergeRule("keep-high", ScopeUser, 90, false, strings.Repeat("a", 10)),
		mergeRule("keep-mid", ScopeUser, 50, false, strings.Repeat("b", 10)),
		mergeRule("drop-low", ScopeUser, 10, false, strings.Repeat("c", 10)),
	})

	assert.Equal(t, []string{"keep-high", "keep-mid"}, names(final))

	total := 0
	for _, rule := range final {
		total += len(rule.Content)
	}
	assert.LessOrEqual(t, total, 25)
}

func TestBuildPromptSection(t *testing.T) {
	merger := NewMerger(0)

	assert.Equal(t, "", merger.BuildPromptSection(nil))

	match1 := mergeRule("rule1", ScopeUser, 50, false, "Content 1")
	match2 := mergeRule("rule2", ScopeUser, 50, false, "Content 2")
	section := merger.BuildPromptSection([]*Rule{match1.Rule, match2.Rule})

	assert.Contains(t, section, "## Agent Rules")
	assert.Contains(t, section, "### rule1")
	assert.Contains(t, section, "### rule2")
	assert.Contains(t, section, "Content 1")
	assert.Contains(t, section, "Content 2")
}

func TestDetectConflicts(t *testing.T) {
	merger := NewMerger(0)

	shared1 := mergeRule("shared", ScopeGlobal, 50, false, "x").Rule
	shared2 := mergeRule("shared", ScopeUser, 50, false, "x").Rule
	unique := mergeRule("unique", ScopeUser, 50, false, "x").Rule

	conflicts := merger.DetectConflicts([]*Rule{shared1, shared2, unique})
	require.Len(t, conflicts, 1)
	assert.Equal(t, "shared", conflicts[0].Name)
	assert.Equal(t, []string{"global", "user"}, conflicts[0].Scopes)
}
