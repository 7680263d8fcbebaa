// Package hitl implements human-in-the-loop tool approval: the
// rendezvous between an in-flight tool call awaiting a decision and the
// out-of-band (or same-connection) message that delivers it.
package hitl

import (
	"context"
	"fmt"

	"github.com/dataagent-ai/dataagent/internal/event"
)

// DecisionType is the kind of approval decision.
type DecisionType string

const (
	DecisionApprove        DecisionType = "approve"
	DecisionReject         DecisionType = "reject"
	DecisionAutoApproveAll DecisionType = "auto_approve_all"
)

// Decision is a user's answer to one action request.
type Decision struct {
	Type    DecisionType `json:"type"`
	Message string       `json:"message,omitempty"`
}

// Reject builds a reject decision with the given message.
func Reject(message string) Decision {
	return Decision{Type: DecisionReject, Message: message}
}

// Approve builds an approve decision.
func Approve() Decision {
	return Decision{Type: DecisionApprove}
}

// Handler requests approval for a single action. Implementations decide
// how the question reaches a human (same connection, SSE + HTTP resolve,
// terminal prompt).
type Handler interface {
	RequestApproval(ctx context.Context, req event.ActionRequest, sessionID string) (Decision, error)
}

// BuildHumanArgs converts `human` tool arguments into the frontend UI
// parameter shape. The interaction_type and its extra parameters are
// forwarded verbatim; the core does not interpret the UI semantics.
func BuildHumanArgs(toolArgs map[string]any) map[string]any {
	interactionType, _ := toolArgs["interaction_type"].(string)
	if interactionType == "" {
		interactionType = "confirm"
	}

	args := map[string]any{
		"type":    interactionType,
		"title":   stringOr(toolArgs["title"], "User interaction"),
		"message": stringOr(toolArgs["message"], ""),
	}

	switch interactionType {
	case "choice":
		if options, ok := toolArgs["options"]; ok {
			args["options"] = options
		} else {
			args["options"] = []any{}
		}
	case "confirm":
		args["confirmText"] = stringOr(toolArgs["confirm_text"], "Confirm")
		args["cancelText"] = stringOr(toolArgs["cancel_text"], "Cancel")
	case "input":
		if v, ok := toolArgs["placeholder"]; ok {
			args["placeholder"] = v
		}
		if v, ok := toolArgs["default_value"]; ok {
			args["defaultValue"] = v
		}
	case "form":
		if fields, ok := toolArgs["fields"]; ok {
			args["fields"] = fields
		} else {
			args["fields"] = []any{}
		}
	}

	if v, ok := toolArgs["timeout"]; ok {
		args["timeout"] = v
	}
	return args
}

// BuildApprovalArgs builds a confirm-style UI parameter set for a
// non-human tool awaiting approval.
func BuildApprovalArgs(req event.ActionRequest) map[string]any {
	var detail string
	switch req.Name {
	case "shell":
		detail = fmt.Sprintf("Command: `%v`", req.Args["command"])
	case "write_file", "edit_file":
		detail = fmt.Sprintf("File: `%v`", req.Args["file_path"])
	default:
		if req.Description != "" {
			detail = req.Description
		} else {
			detail = fmt.Sprintf("Arguments: %v", req.Args)
		}
	}

	return map[string]any{
		"type":        "confirm",
		"title":       "Tool approval: " + req.Name,
		"message":     fmt.Sprintf("The agent requests the following action:\n\n%s\n\nAllow it to run?", detail),
		"confirmText": "Allow",
		"cancelText":  "Reject",
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
