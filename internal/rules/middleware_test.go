package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
)

func middlewareStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.SaveRule(&Rule{
		Name: "always-on", Description: "d", Content: "Always applies.",
		Scope: ScopeUser, Inclusion: InclusionAlways, Priority: 50, Enabled: true,
	}))
	require.NoError(t, store.SaveRule(&Rule{
		Name: "go-only", Description: "d", Content: "Go files only.",
		Scope: ScopeUser, Inclusion: InclusionFileMatch, FileMatchPattern: "*.go",
		Priority: 50, Enabled: true,
	}))
	require.NoError(t, store.SaveRule(&Rule{
		Name: "on-demand", Description: "d", Content: "Manual rule.",
		Scope: ScopeUser, Inclusion: InclusionManual, Priority: 50, Enabled: true,
	}))
	return store
}

func TestMiddlewareInjectsRules(t *testing.T) {
	mw := NewMiddleware(middlewareStore(t), MiddlewareOptions{})

	req := &executor.ModelRequest{
		SystemPrompt: "You are an agent.",
		State:        &executor.AgentState{SessionID: "s1", UserQuery: "hello"},
	}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	assert.Contains(t, req.SystemPrompt, "You are an agent.")
	assert.Contains(t, req.SystemPrompt, "## Agent Rules")
	assert.Contains(t, req.SystemPrompt, "Always applies.")
	assert.NotContains(t, req.SystemPrompt, "Go files only.")
	assert.NotContains(t, req.SystemPrompt, "Manual rule.")
}

func TestMiddlewareFileAndManualContext(t *testing.T) {
	mw := NewMiddleware(middlewareStore(t), MiddlewareOptions{})

	req := &executor.ModelRequest{
		State: &executor.AgentState{
			SessionID: "s1",
			UserQuery: "please fix `cmd/main.go` using @on-demand",
		},
	}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	assert.Contains(t, req.SystemPrompt, "Go files only.")
	assert.Contains(t, req.SystemPrompt, "Manual rule.")

	trace := mw.LastTrace()
	require.NotNil(t, trace)
	assert.Len(t, trace.FinalRules, 3)
	assert.Equal(t, 3, len(trace.EvaluatedRules))
}

func TestMiddlewareEmitsRulesApplied(t *testing.T) {
	var events []event.Event
	mw := NewMiddleware(middlewareStore(t), MiddlewareOptions{
		Callback: func(e event.Event) { events = append(events, e) },
	})

	req := &executor.ModelRequest{State: &executor.AgentState{UserQuery: "hi"}}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	require.Len(t, events, 1)
	require.Equal(t, event.TypeRulesApplied, events[0].Type)
	data := events[0].Data.(event.RulesAppliedData)
	require.Len(t, data.TriggeredRules, 1)
	assert.Equal(t, "always-on", data.TriggeredRules[0].Name)
	assert.Equal(t, 2, data.SkippedCount)
}

func TestMiddlewareDebugTrace(t *testing.T) {
	mw := NewMiddleware(middlewareStore(t), MiddlewareOptions{DebugMode: true})

	req := &executor.ModelRequest{State: &executor.AgentState{UserQuery: "hi"}}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	assert.Contains(t, req.SystemPrompt, "[DEBUG] Rule Evaluation Trace")
	assert.Contains(t, req.SystemPrompt, "Skipped Rules")
}
