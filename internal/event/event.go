// Package event defines the typed event union emitted to clients during
// agent execution, plus a pub/sub bus for in-process observers.
//
// Every event serializes to a self-describing record: the "event_type"
// field is the discriminant, "timestamp" is seconds since epoch, and the
// variant-specific fields sit alongside them. Decoding switches on the
// discriminant and fails loudly on unknown tags.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the event discriminant.
type Type string

const (
	TypeText          Type = "text"
	TypeToolCall      Type = "tool_call"
	TypeToolResult    Type = "tool_result"
	TypeHITLRequest   Type = "hitl_request"
	TypeTodoUpdate    Type = "todo_update"
	TypeFileOperation Type = "file_operation"
	TypeError         Type = "error"
	TypeDone          Type = "done"

	// Runtime-level events, emitted by the connection runtime rather than
	// the execution pipeline.
	TypeConnected    Type = "connected"
	TypePong         Type = "pong"
	TypeRulesApplied Type = "rules_applied"
)

// ErrMissingEventType is returned when a decoded record has no event_type.
var ErrMissingEventType = errors.New("missing event_type")

// UnknownEventTypeError is returned when decoding a record whose
// event_type is not a known discriminant.
type UnknownEventTypeError struct {
	Type string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event_type: %q", e.Type)
}

// Event is one emitted runtime event. Data holds the variant payload,
// one of the *Data structs in this package.
type Event struct {
	Type      Type
	Timestamp float64
	Data      any
}

// TextData is the payload of a "text" event.
type TextData struct {
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}

// ToolCallData is the payload of a "tool_call" event.
type ToolCallData struct {
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args"`
	ToolCallID string         `json:"tool_call_id"`
}

// ToolResultData is the payload of a "tool_result" event.
type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	Status     string `json:"status"`
}

// ActionRequest describes one tool invocation awaiting approval.
type ActionRequest struct {
	Name        string         `json:"name"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description,omitempty"`
}

// HITLRequestData is the payload of an "hitl_request" event. HITLArgs
// carries frontend-facing UI parameters and is forwarded verbatim.
type HITLRequestData struct {
	InterruptID    string          `json:"interrupt_id"`
	ActionRequests []ActionRequest `json:"action_requests"`
	HITLArgs       map[string]any  `json:"hitl_args,omitempty"`
}

// Todo is one entry of a todo list update.
type Todo struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// TodoUpdateData is the payload of a "todo_update" event.
type TodoUpdateData struct {
	Todos []Todo `json:"todos"`
}

// FileMetrics holds line counts for a tracked file operation.
type FileMetrics struct {
	LinesRead    int `json:"lines_read"`
	LinesWritten int `json:"lines_written"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// FileOperationData is the payload of a "file_operation" event.
type FileOperationData struct {
	Operation string      `json:"operation"`
	FilePath  string      `json:"file_path"`
	Metrics   FileMetrics `json:"metrics"`
	Diff      string      `json:"diff,omitempty"`
	Status    string      `json:"status"`
}

// ErrorData is the payload of an "error" event. Code is set for protocol
// errors (INVALID_MESSAGE, EMPTY_MESSAGE, ...), empty for pipeline errors.
type ErrorData struct {
	Error       string `json:"error"`
	Code        string `json:"error_code,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// TokenUsage reports token counts for a completed round.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// DoneData is the payload of a "done" event, the normal stream terminator.
type DoneData struct {
	Cancelled  bool        `json:"cancelled"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// ConnectedData is the payload of a "connected" event.
type ConnectedData struct {
	SessionID string `json:"session_id"`
}

// PongData is the payload of a "pong" event.
type PongData struct{}

// TriggeredRule identifies a rule applied to a model call.
type TriggeredRule struct {
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	MatchReason string `json:"match_reason"`
}

// RuleConflict reports two rules that competed for the same name.
type RuleConflict struct {
	Rule1  string `json:"rule1"`
	Rule2  string `json:"rule2"`
	Reason string `json:"reason"`
}

// RulesAppliedData is the payload of a "rules_applied" event.
type RulesAppliedData struct {
	TriggeredRules []TriggeredRule `json:"triggered_rules"`
	SkippedCount   int             `json:"skipped_count"`
	Conflicts      []RuleConflict  `json:"conflicts"`
	TotalSize      int             `json:"total_size"`
}

// now returns the current time as float seconds since epoch.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// New builds an event of the given type, stamping the current time.
func New(t Type, data any) Event {
	return Event{Type: t, Timestamp: now(), Data: data}
}

// NewText builds a "text" event.
func NewText(content string, isFinal bool) Event {
	return New(TypeText, TextData{Content: content, IsFinal: isFinal})
}

// NewToolCall builds a "tool_call" event.
func NewToolCall(name string, args map[string]any, callID string) Event {
	return New(TypeToolCall, ToolCallData{ToolName: name, ToolArgs: args, ToolCallID: callID})
}

// NewToolResult builds a "tool_result" event.
func NewToolResult(callID, result, status string) Event {
	return New(TypeToolResult, ToolResultData{ToolCallID: callID, Result: result, Status: status})
}

// NewHITLRequest builds an "hitl_request" event.
func NewHITLRequest(interruptID string, requests []ActionRequest, hitlArgs map[string]any) Event {
	return New(TypeHITLRequest, HITLRequestData{
		InterruptID:    interruptID,
		ActionRequests: requests,
		HITLArgs:       hitlArgs,
	})
}

// NewTodoUpdate builds a "todo_update" event.
func NewTodoUpdate(todos []Todo) Event {
	return New(TypeTodoUpdate, TodoUpdateData{Todos: todos})
}

// NewFileOperation builds a "file_operation" event.
func NewFileOperation(data FileOperationData) Event {
	return New(TypeFileOperation, data)
}

// NewError builds an "error" event.
func NewError(msg string, recoverable bool) Event {
	return New(TypeError, ErrorData{Error: msg, Recoverable: recoverable})
}

// NewProtocolError builds an "error" event carrying a protocol error code.
func NewProtocolError(code, msg string, recoverable bool) Event {
	return New(TypeError, ErrorData{Error: msg, Code: code, Recoverable: recoverable})
}

// NewDone builds a "done" event.
func NewDone(cancelled bool, usage *TokenUsage) Event {
	return New(TypeDone, DoneData{Cancelled: cancelled, TokenUsage: usage})
}

// NewConnected builds a "connected" event.
func NewConnected(sessionID string) Event {
	return New(TypeConnected, ConnectedData{SessionID: sessionID})
}

// NewPong builds a "pong" event.
func NewPong() Event {
	return New(TypePong, PongData{})
}

// MarshalJSON flattens the event into a single record: the variant fields
// plus event_type and timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)

	if e.Data != nil {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("event data is not an object: %w", err)
		}
	}

	typeRaw, _ := json.Marshal(e.Type)
	tsRaw, _ := json.Marshal(e.Timestamp)
	fields["event_type"] = typeRaw
	fields["timestamp"] = tsRaw

	return json.Marshal(fields)
}

// Encode serializes the event to its wire record.
func (e Event) Encode() ([]byte, error) {
	return e.MarshalJSON()
}

// Decode parses a wire record back into an Event. Missing event_type
// returns ErrMissingEventType; unknown tags return *UnknownEventTypeError.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type      string  `json:"event_type"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if head.Type == "" {
		return Event{}, ErrMissingEventType
	}

	e := Event{Type: Type(head.Type), Timestamp: head.Timestamp}

	switch e.Type {
	case TypeText:
		var v TextData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeToolCall:
		var v ToolCallData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeToolResult:
		var v ToolResultData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeHITLRequest:
		var v HITLRequestData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeTodoUpdate:
		var v TodoUpdateData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeFileOperation:
		var v FileOperationData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeError:
		var v ErrorData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeDone:
		var v DoneData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypeConnected:
		var v ConnectedData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	case TypePong:
		e.Data = PongData{}
	case TypeRulesApplied:
		var v RulesAppliedData
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, err
		}
		e.Data = v
	default:
		return Event{}, &UnknownEventTypeError{Type: head.Type}
	}

	return e, nil
}

// Envelope is the framed shape sent on client channels: the variant
// payload sits under "data" instead of being flattened.
type Envelope struct {
	EventType Type    `json:"event_type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// Envelope wraps the event for the client message channel.
func (e Event) Envelope() Envelope {
	data := e.Data
	if data == nil {
		data = struct{}{}
	}
	return Envelope{EventType: e.Type, Data: data, Timestamp: e.Timestamp}
}
