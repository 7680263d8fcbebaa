package rules

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchContext is the request context rules are matched against.
type MatchContext struct {
	CurrentFiles []string
	UserQuery    string
	SessionID    string
	AssistantID  string
	// ManualRules are rule names referenced as @rulename in the query.
	ManualRules []string
}

// Matcher decides which rules apply to a request context.
type Matcher struct{}

// NewMatcher returns a rule matcher.
func NewMatcher() *Matcher { return &Matcher{} }

// MatchRules splits rules into matched and skipped sets, each with a
// human-readable reason.
func (m *Matcher) MatchRules(rules []*Rule, ctx MatchContext) ([]Match, []Skipped) {
	var matched []Match
	var skipped []Skipped

	for _, rule := range rules {
		if !rule.Enabled {
			skipped = append(skipped, Skipped{Name: rule.Name, Reason: "disabled"})
			continue
		}

		switch rule.Inclusion {
		case InclusionAlways:
			matched = append(matched, Match{
				Rule:        rule,
				RuleName:    rule.Name,
				RuleScope:   rule.Scope,
				MatchReason: "inclusion mode is 'always'",
			})

		case InclusionManual:
			if containsString(ctx.ManualRules, rule.Name) {
				matched = append(matched, Match{
					Rule:        rule,
					RuleName:    rule.Name,
					RuleScope:   rule.Scope,
					MatchReason: fmt.Sprintf("manually referenced as @%s", rule.Name),
				})
			} else {
				skipped = append(skipped, Skipped{Name: rule.Name, Reason: "manual rule not referenced"})
			}

		case InclusionFileMatch:
			if rule.FileMatchPattern == "" {
				skipped = append(skipped, Skipped{Name: rule.Name, Reason: "fileMatch rule has no pattern"})
				continue
			}
			files := matchFiles(rule.FileMatchPattern, ctx.CurrentFiles)
			if len(files) > 0 {
				matched = append(matched, Match{
					Rule:         rule,
					RuleName:     rule.Name,
					RuleScope:    rule.Scope,
					MatchReason:  fmt.Sprintf("files match pattern %q: %s", rule.FileMatchPattern, strings.Join(files, ", ")),
					MatchedFiles: files,
				})
			} else {
				skipped = append(skipped, Skipped{
					Name:   rule.Name,
					Reason: fmt.Sprintf("no files match pattern %q", rule.FileMatchPattern),
				})
			}

		default:
			skipped = append(skipped, Skipped{
				Name:   rule.Name,
				Reason: fmt.Sprintf("unknown inclusion mode %q", rule.Inclusion),
			})
		}
	}

	return matched, skipped
}

// matchFiles returns files matching the glob pattern, considering both
// the full path and the basename.
func matchFiles(pattern string, files []string) []string {
	var out []string
	for _, file := range files {
		if ok, err := doublestar.Match(pattern, file); err == nil && ok {
			out = append(out, file)
			continue
		}
		if ok, err := doublestar.Match(pattern, filepath.Base(file)); err == nil && ok {
			out = append(out, file)
		}
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
