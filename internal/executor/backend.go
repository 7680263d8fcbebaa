// Package executor runs agent executions against a streaming model
// backend and produces the typed event sequence clients consume.
package executor

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/mcp"
)

// StreamMode distinguishes the two logical chunk streams the backend
// multiplexes: message chunks and structural updates.
type StreamMode string

const (
	ModeMessages StreamMode = "messages"
	ModeUpdates  StreamMode = "updates"
)

// Interrupt is a HITL interrupt surfaced by the backend: the execution
// is suspended until the carried action requests are decided.
type Interrupt struct {
	ID             string
	ActionRequests []event.ActionRequest
}

// Chunk is one unit of backend output.
//
// In messages mode, Message carries a model or tool message chunk; tool
// results arrive as role-tool messages whose status (success/error) sits
// in Extra["status"]. Last marks the final chunk of an assistant
// message. In updates mode, Interrupts and Todos carry structural state
// changes; HasTodos distinguishes an empty todo list from no update.
type Chunk struct {
	Mode StreamMode

	Message *schema.Message
	Last    bool

	Interrupts []Interrupt
	Todos      []event.Todo
	HasTodos   bool
}

// StreamInput seeds one backend round: either the user's messages on
// the first round, or the consolidated HITL decisions when resuming.
// Tools is the session's tool set, local tools plus the user's MCP
// tools.
type StreamInput struct {
	Messages     []*schema.Message
	Resume       map[string][]hitl.Decision
	SystemPrompt string
	ThreadID     string
	AssistantID  string
	Tools        []mcp.ToolDescriptor
}

// ChunkStream yields chunks until io.EOF.
type ChunkStream interface {
	Recv() (*Chunk, error)
	Close()
}

// Backend is the streaming model interface the executor drives. The
// concrete LLM provider SDK lives behind it.
type Backend interface {
	Stream(ctx context.Context, input StreamInput) (ChunkStream, error)
}

// ToolStatus reads a tool message's execution status, defaulting to
// success.
func ToolStatus(msg *schema.Message) string {
	if msg.Extra != nil {
		if status, ok := msg.Extra["status"].(string); ok && status != "" {
			return status
		}
	}
	return "success"
}
