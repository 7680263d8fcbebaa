package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
)

// manualReferencePattern matches @rulename tokens in the user query.
var manualReferencePattern = regexp.MustCompile(`@(\w[\w\-]*)`)

// Middleware injects matched, merged rule content into the system prompt
// on every model call. It implements executor.Middleware.
type Middleware struct {
	store   Store
	matcher *Matcher
	merger  *Merger

	debugMode bool
	callback  func(event.Event)

	mu        sync.Mutex
	lastTrace *EvaluationTrace
}

// MiddlewareOptions configures the rules middleware.
type MiddlewareOptions struct {
	DebugMode      bool
	MaxContentSize int
	// Callback receives a rules_applied event per model call, for
	// observers such as the event bus.
	Callback func(event.Event)
}

// NewMiddleware creates the rules middleware over a store.
func NewMiddleware(store Store, opts MiddlewareOptions) *Middleware {
	return &Middleware{
		store:     store,
		matcher:   NewMatcher(),
		merger:    NewMerger(opts.MaxContentSize),
		debugMode: opts.DebugMode,
		callback:  opts.Callback,
	}
}

// Name implements executor.Middleware.
func (m *Middleware) Name() string { return "rules" }

// BeforeAgent reloads the store so each execution sees current rules.
func (m *Middleware) BeforeAgent(state *executor.AgentState) error {
	return m.store.Reload()
}

// WrapModelCall matches rules against the request context and prepends
// the merged content to the system prompt.
func (m *Middleware) WrapModelCall(req *executor.ModelRequest, next executor.Handler) error {
	ctx := m.buildMatchContext(req)

	allRules := m.store.ListRules(nil)
	matched, skipped := m.matcher.MatchRules(allRules, ctx)
	final, conflicts := m.merger.MergeRules(matched)

	trace := &EvaluationTrace{
		RequestID:    strings.ToLower(ulid.Make().String()[:8]),
		Timestamp:    time.Now(),
		MatchedRules: matched,
		SkippedRules: skipped,
		Conflicts:    conflicts,
	}
	totalSize := 0
	for _, rule := range allRules {
		trace.EvaluatedRules = append(trace.EvaluatedRules, rule.Name)
	}
	for _, rule := range final {
		trace.FinalRules = append(trace.FinalRules, rule.Name)
		totalSize += len(rule.Content)
	}
	trace.TotalContentSize = totalSize

	m.mu.Lock()
	m.lastTrace = trace
	m.mu.Unlock()

	m.emit(trace, matched, conflicts)

	section := m.merger.BuildPromptSection(final)
	if m.debugMode {
		section += m.buildDebugSection(trace)
	}

	if section != "" {
		if req.SystemPrompt != "" {
			req.SystemPrompt = section + "\n\n" + req.SystemPrompt
		} else {
			req.SystemPrompt = section
		}
	}

	return next(req)
}

func (m *Middleware) buildMatchContext(req *executor.ModelRequest) MatchContext {
	ctx := MatchContext{}
	if req.State != nil {
		ctx.UserQuery = req.State.UserQuery
		ctx.SessionID = req.State.SessionID
		ctx.AssistantID = req.State.AssistantID
		ctx.CurrentFiles = append(ctx.CurrentFiles, req.State.CurrentFiles...)
	}
	ctx.CurrentFiles = append(ctx.CurrentFiles, extractFileReferences(ctx.UserQuery)...)

	for _, match := range manualReferencePattern.FindAllStringSubmatch(ctx.UserQuery, -1) {
		ctx.ManualRules = append(ctx.ManualRules, match[1])
	}
	return ctx
}

var (
	backtickFilePattern = regexp.MustCompile("`([^`]+\\.\\w+)`")
	filePrefixPattern   = regexp.MustCompile(`file:([^\s]+)`)
	pathPrefixPattern   = regexp.MustCompile(`path:([^\s]+)`)
)

// extractFileReferences pulls file mentions out of message content:
// backticked paths with an extension, and file:/path: prefixed tokens.
func extractFileReferences(content string) []string {
	var files []string
	for _, m := range backtickFilePattern.FindAllStringSubmatch(content, -1) {
		files = append(files, m[1])
	}
	for _, m := range filePrefixPattern.FindAllStringSubmatch(content, -1) {
		files = append(files, m[1])
	}
	for _, m := range pathPrefixPattern.FindAllStringSubmatch(content, -1) {
		files = append(files, m[1])
	}
	return files
}

func (m *Middleware) emit(trace *EvaluationTrace, matched []Match, conflicts []Conflict) {
	if m.callback == nil {
		return
	}

	data := event.RulesAppliedData{
		SkippedCount: len(trace.SkippedRules),
		TotalSize:    trace.TotalContentSize,
	}
	for _, match := range matched {
		data.TriggeredRules = append(data.TriggeredRules, event.TriggeredRule{
			Name:        match.RuleName,
			Scope:       string(match.RuleScope),
			MatchReason: match.MatchReason,
		})
	}
	for _, conflict := range conflicts {
		data.Conflicts = append(data.Conflicts, event.RuleConflict{
			Rule1:  conflict.Rule1,
			Rule2:  conflict.Rule2,
			Reason: conflict.Reason,
		})
	}

	m.callback(event.New(event.TypeRulesApplied, data))
}

func (m *Middleware) buildDebugSection(trace *EvaluationTrace) string {
	var b strings.Builder
	b.WriteString("\n---\n## [DEBUG] Rule Evaluation Trace\n")
	fmt.Fprintf(&b, "Request ID: %s\n", trace.RequestID)
	fmt.Fprintf(&b, "Evaluated: %d rules\n", len(trace.EvaluatedRules))
	fmt.Fprintf(&b, "Matched: %d rules\n", len(trace.MatchedRules))
	fmt.Fprintf(&b, "Final: %d rules\n", len(trace.FinalRules))
	fmt.Fprintf(&b, "Total Size: %d bytes\n", trace.TotalContentSize)

	if len(trace.MatchedRules) > 0 {
		b.WriteString("\n### Triggered Rules:\n")
		for _, match := range trace.MatchedRules {
			fmt.Fprintf(&b, "- %s (%s): %s\n", match.RuleName, match.RuleScope, match.MatchReason)
		}
	}

	if len(trace.SkippedRules) > 0 {
		b.WriteString("\n### Skipped Rules:\n")
		limit := len(trace.SkippedRules)
		if limit > 10 {
			limit = 10
		}
		for _, s := range trace.SkippedRules[:limit] {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Reason)
		}
		if len(trace.SkippedRules) > 10 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(trace.SkippedRules)-10)
		}
	}

	if len(trace.Conflicts) > 0 {
		b.WriteString("\n### Conflicts:\n")
		for _, c := range trace.Conflicts {
			fmt.Fprintf(&b, "- %s vs %s: %s\n", c.Rule1, c.Rule2, c.Reason)
		}
	}

	b.WriteString("---\n")
	return b.String()
}

// LastTrace returns the most recent evaluation trace, or nil.
func (m *Middleware) LastTrace() *EvaluationTrace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTrace
}

// SetDebugMode toggles debug trace injection.
func (m *Middleware) SetDebugMode(enabled bool) {
	m.debugMode = enabled
}
