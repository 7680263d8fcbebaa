package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataagent-ai/dataagent/internal/event"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()

	ch := reg.register("s1", "i1")
	require.True(t, reg.HasPending("s1"))
	require.False(t, reg.HasPending("s2"))

	ok := reg.Resolve("s1", "i1", Approve())
	require.True(t, ok)

	decision := <-ch
	assert.Equal(t, DecisionApprove, decision.Type)

	// A second resolve on the same slot is ignored.
	assert.False(t, reg.Resolve("s1", "i1", Reject("again")))
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Resolve("nope", "i1", Approve()))
}

func TestRegistryCancelPending(t *testing.T) {
	reg := NewRegistry()
	reg.register("s1", "i1")
	reg.register("s1", "i2")
	reg.register("s2", "i1")

	assert.Equal(t, 2, reg.CancelPending("s1"))
	assert.False(t, reg.HasPending("s1"))
	assert.True(t, reg.HasPending("s2"))

	assert.Equal(t, 0, reg.CancelPending("s1"))
}

func TestStreamHandlerApprove(t *testing.T) {
	reg := NewRegistry()

	var sent []event.Event
	handler := NewStreamHandler(reg, "s1", func(e event.Event) error {
		sent = append(sent, e)
		// Resolve as the "HTTP endpoint" would, using the emitted id.
		data := e.Data.(event.HITLRequestData)
		go reg.Resolve("s1", data.InterruptID, Approve())
		return nil
	}, time.Second)

	decision, err := handler.RequestApproval(context.Background(), event.ActionRequest{
		Name: "shell",
		Args: map[string]any{"command": "ls"},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, decision.Type)

	require.Len(t, sent, 1)
	assert.Equal(t, event.TypeHITLRequest, sent[0].Type)
	data := sent[0].Data.(event.HITLRequestData)
	assert.NotEmpty(t, data.InterruptID)
	assert.Equal(t, "confirm", data.HITLArgs["type"])
	assert.False(t, reg.HasPending("s1"), "slot is removed after resolution")
}

func TestStreamHandlerTimeout(t *testing.T) {
	reg := NewRegistry()
	handler := NewStreamHandler(reg, "s1", func(event.Event) error { return nil }, 20*time.Millisecond)

	decision, err := handler.RequestApproval(context.Background(), event.ActionRequest{Name: "shell"}, "s1")
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, decision.Type)
	assert.Equal(t, "Approval timeout", decision.Message)
}

func TestStreamHandlerCancelled(t *testing.T) {
	reg := NewRegistry()
	handler := NewStreamHandler(reg, "s1", func(e event.Event) error {
		go reg.CancelPending("s1")
		return nil
	}, time.Second)

	decision, err := handler.RequestApproval(context.Background(), event.ActionRequest{Name: "shell"}, "s1")
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, decision.Type)
	assert.Equal(t, "Request cancelled", decision.Message)
}

func TestStreamHandlerContextCancel(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	handler := NewStreamHandler(reg, "s1", func(e event.Event) error {
		go cancel()
		return nil
	}, time.Second)

	decision, err := handler.RequestApproval(ctx, event.ActionRequest{Name: "shell"}, "s1")
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, decision.Type)
	assert.Equal(t, "Request cancelled", decision.Message)
}

func TestBuildHumanArgs(t *testing.T) {
	args := BuildHumanArgs(map[string]any{
		"interaction_type": "choice",
		"title":            "Pick one",
		"options":          []any{"a", "b"},
		"timeout":          30,
	})

	assert.Equal(t, "choice", args["type"])
	assert.Equal(t, "Pick one", args["title"])
	assert.Equal(t, []any{"a", "b"}, args["options"])
	assert.Equal(t, 30, args["timeout"])
}

func TestBuildHumanArgsDefaultsToConfirm(t *testing.T) {
	args := BuildHumanArgs(map[string]any{})
	assert.Equal(t, "confirm", args["type"])
	assert.Equal(t, "Confirm", args["confirmText"])
	assert.Equal(t, "Cancel", args["cancelText"])
}

func TestBuildApprovalArgsShell(t *testing.T) {
	args := BuildApprovalArgs(event.ActionRequest{
		Name: "shell",
		Args: map[string]any{"command": "rm -rf /tmp/x"},
	})
	assert.Equal(t, "confirm", args["type"])
	assert.Contains(t, args["message"], "rm -rf /tmp/x")
}
