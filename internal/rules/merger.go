package rules

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxContentSize is the default byte budget for merged rule
// content.
const DefaultMaxContentSize = 100_000

// Merger orders matched rules, resolves same-name collisions, and
// enforces a byte budget on the merged content.
type Merger struct {
	MaxContentSize int
}

// NewMerger creates a merger with the given content byte budget.
// A non-positive budget falls back to the default.
func NewMerger(maxContentSize int) *Merger {
	if maxContentSize <= 0 {
		maxContentSize = DefaultMaxContentSize
	}
	return &Merger{MaxContentSize: maxContentSize}
}

// MergeRules produces the final ordered rule list and the conflict set.
//
// Ordering: scope rank descending, then rule priority descending, then
// name ascending. Same-name rules across scopes: the higher scope wins
// unless a lower-scope rule carries override=true, in which case the
// override wins and the loser is recorded as a conflict. If the total
// content exceeds MaxContentSize, rules are trimmed from the
// lowest-priority end.
func (m *Merger) MergeRules(matches []Match) ([]*Rule, []Conflict) {
	var conflicts []Conflict

	// Group by name to resolve cross-scope collisions.
	byName := make(map[string][]*Rule)
	var names []string
	for _, match := range matches {
		if match.Rule == nil {
			continue
		}
		if _, seen := byName[match.Rule.Name]; !seen {
			names = append(names, match.Rule.Name)
		}
		byName[match.Rule.Name] = append(byName[match.Rule.Name], match.Rule)
	}

	var final []*Rule
	for _, name := range names {
		candidates := byName[name]
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Scope.Rank() != candidates[j].Scope.Rank() {
				return candidates[i].Scope.Rank() > candidates[j].Scope.Rank()
			}
			return candidates[i].Priority > candidates[j].Priority
		})

		winner := candidates[0]
		for _, challenger := range candidates[1:] {
			if challenger.Override {
				conflicts = append(conflicts, Conflict{
					Rule1:  winner.Key(),
					Rule2:  challenger.Key(),
					Reason: fmt.Sprintf("%s-scope override supersedes %s-scope rule", challenger.Scope, winner.Scope),
				})
				winner = challenger
				break
			}
			conflicts = append(conflicts, Conflict{
				Rule1:  winner.Key(),
				Rule2:  challenger.Key(),
				Reason: fmt.Sprintf("%s scope takes precedence over %s scope", winner.Scope, challenger.Scope),
			})
		}
		final = append(final, winner)
	}

	sort.Slice(final, func(i, j int) bool {
		if final[i].Scope.Rank() != final[j].Scope.Rank() {
			return final[i].Scope.Rank() > final[j].Scope.Rank()
		}
		if final[i].Priority != final[j].Priority {
			return final[i].Priority > final[j].Priority
		}
		return final[i].Name < final[j].Name
	})

	final = m.trimToBudget(final)
	return final, conflicts
}

// trimToBudget drops rules from the lowest-priority end until the total
// content size fits the budget.
func (m *Merger) trimToBudget(rules []*Rule) []*Rule {
	total := 0
	for _, rule := range rules {
		total += len(rule.Content)
	}
	for len(rules) > 0 && total > m.MaxContentSize {
		last := rules[len(rules)-1]
		total -= len(last.Content)
		rules = rules[:len(rules)-1]
	}
	return rules
}

// BuildPromptSection renders the final rules as a system prompt section.
func (m *Merger) BuildPromptSection(rules []*Rule) string {
	if len(rules) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Agent Rules\n")
	for _, rule := range rules {
		b.WriteString("\n### ")
		b.WriteString(rule.Name)
		b.WriteString("\n\n")
		b.WriteString(rule.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// NameConflict reports a rule name that exists in multiple scopes.
type NameConflict struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// DetectConflicts lists names that appear in more than one scope.
func (m *Merger) DetectConflicts(rules []*Rule) []NameConflict {
	scopesByName := make(map[string][]string)
	var names []string
	for _, rule := range rules {
		if _, seen := scopesByName[rule.Name]; !seen {
			names = append(names, rule.Name)
		}
		scopesByName[rule.Name] = append(scopesByName[rule.Name], string(rule.Scope))
	}

	var out []NameConflict
	for _, name := range names {
		if scopes := scopesByName[name]; len(scopes) > 1 {
			sort.Strings(scopes)
			out = append(out, NameConflict{Name: name, Scopes: scopes})
		}
	}
	return out
}
