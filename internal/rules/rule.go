// Package rules implements per-user, per-scope agent rules: Markdown
// files with YAML frontmatter that are matched against request context,
// merged by priority, and injected into the system prompt.
package rules

import (
	"time"
)

// Scope is a rule scope level. Scopes form a strict priority hierarchy.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

// Rank returns the scope's priority rank; higher ranks win in merging.
func (s Scope) Rank() int {
	switch s {
	case ScopeSession:
		return 3
	case ScopeProject:
		return 2
	case ScopeUser:
		return 1
	case ScopeGlobal:
		return 0
	}
	return -1
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool { return s.Rank() >= 0 }

// Inclusion controls when a rule is included in the prompt.
type Inclusion string

const (
	InclusionAlways    Inclusion = "always"
	InclusionFileMatch Inclusion = "fileMatch"
	InclusionManual    Inclusion = "manual"
)

// Rule is one agent rule. Identity is (Scope, Name).
type Rule struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Content          string         `json:"content"`
	Scope            Scope          `json:"scope"`
	Inclusion        Inclusion      `json:"inclusion"`
	FileMatchPattern string         `json:"file_match_pattern,omitempty"`
	Priority         int            `json:"priority"`
	Override         bool           `json:"override"`
	Enabled          bool           `json:"enabled"`
	SourcePath       string         `json:"source_path,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Key returns the cache key "scope:name".
func (r *Rule) Key() string {
	return string(r.Scope) + ":" + r.Name
}

// Equal compares rules by identity (name, scope).
func (r *Rule) Equal(other *Rule) bool {
	if other == nil {
		return false
	}
	return r.Name == other.Name && r.Scope == other.Scope
}

// Match records a rule that matched the request context.
type Match struct {
	Rule         *Rule    `json:"-"`
	RuleName     string   `json:"rule_name"`
	RuleScope    Scope    `json:"rule_scope"`
	MatchReason  string   `json:"match_reason"`
	MatchedFiles []string `json:"matched_files,omitempty"`
}

// Skipped records a rule that was evaluated and not applied.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict records two rules that competed for the same name during a
// merge.
type Conflict struct {
	Rule1  string `json:"rule1"`
	Rule2  string `json:"rule2"`
	Reason string `json:"reason"`
}

// EvaluationTrace captures one rule evaluation for debugging.
type EvaluationTrace struct {
	RequestID        string     `json:"request_id"`
	Timestamp        time.Time  `json:"timestamp"`
	EvaluatedRules   []string   `json:"evaluated_rules"`
	MatchedRules     []Match    `json:"matched_rules"`
	SkippedRules     []Skipped  `json:"skipped_rules"`
	Conflicts        []Conflict `json:"conflicts"`
	FinalRules       []string   `json:"final_rules"`
	TotalContentSize int        `json:"total_content_size"`
}
