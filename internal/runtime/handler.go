package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/logging"
)

// Protocol error codes sent in error events on the client channel.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeEmptyMessage       = "EMPTY_MESSAGE"
	CodeEmptyDecision      = "EMPTY_DECISION"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeNoPendingDecision  = "NO_PENDING_DECISION"
	CodeExecutorError      = "EXECUTOR_ERROR"
	CodeExecutionError     = "EXECUTION_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Message is the inbound client message frame. Both fields are
// mandatory; anything else is rejected with INVALID_MESSAGE.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ExecutorFactory builds the executor for a session on first chat. The
// supplied HITL handler delivers approval requests over the session's
// own connection.
type ExecutorFactory func(ctx context.Context, sessionID, userID string, handler hitl.Handler) (*executor.Executor, error)

// ChatHandler drives the message protocol of one or more client
// connections: chat, hitl_decision, cancel, and ping messages in;
// events out.
type ChatHandler struct {
	conns       *Manager
	factory     ExecutorFactory
	hitlTimeout time.Duration

	mu        sync.Mutex
	executors map[string]*executor.Executor
	users     map[string]string
}

// NewChatHandler creates a chat handler over the connection manager.
func NewChatHandler(conns *Manager, factory ExecutorFactory, hitlTimeout time.Duration) *ChatHandler {
	if hitlTimeout <= 0 {
		hitlTimeout = hitl.DefaultTimeout
	}
	return &ChatHandler{
		conns:       conns,
		factory:     factory,
		hitlTimeout: hitlTimeout,
		executors:   make(map[string]*executor.Executor),
		users:       make(map[string]string),
	}
}

// HandleConnection runs the receive loop for one connection. recv
// blocks for the next raw message and returns an error when the
// connection drops. The connected event is always the first event of an
// accepted connection.
func (h *ChatHandler) HandleConnection(ctx context.Context, conn Conn, sessionID string, recv func() ([]byte, error)) {
	if !h.conns.Connect(conn, sessionID) {
		return
	}
	defer h.cleanupSession(sessionID)

	h.conns.Send(sessionID, event.NewConnected(sessionID))

	for {
		raw, err := recv()
		if err != nil {
			return
		}
		h.HandleMessage(ctx, sessionID, raw)
	}
}

// cleanupSession disconnects the session and drops its cached executor.
func (h *ChatHandler) cleanupSession(sessionID string) {
	h.conns.Disconnect(sessionID)

	h.mu.Lock()
	delete(h.executors, sessionID)
	delete(h.users, sessionID)
	h.mu.Unlock()
}

// HandleMessage validates and dispatches one inbound message.
func (h *ChatHandler) HandleMessage(ctx context.Context, sessionID string, raw []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		h.sendError(sessionID, CodeInvalidMessage, "Message must contain 'type' and 'payload' fields")
		return
	}
	if _, ok := probe["type"]; !ok {
		h.sendError(sessionID, CodeInvalidMessage, "Message must contain 'type' and 'payload' fields")
		return
	}
	if _, ok := probe["payload"]; !ok {
		h.sendError(sessionID, CodeInvalidMessage, "Message must contain 'type' and 'payload' fields")
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(sessionID, CodeInvalidMessage, "Message must contain 'type' and 'payload' fields")
		return
	}

	switch msg.Type {
	case "chat":
		h.handleChat(ctx, sessionID, msg.Payload)
	case "hitl_decision":
		h.handleHITLDecision(sessionID, msg.Payload)
	case "cancel":
		h.handleCancel(sessionID)
	case "ping":
		h.conns.Send(sessionID, event.NewPong())
	default:
		h.sendError(sessionID, CodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

type chatPayload struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

func (h *ChatHandler) handleChat(ctx context.Context, sessionID string, payload json.RawMessage) {
	var chat chatPayload
	_ = json.Unmarshal(payload, &chat)

	if chat.Message == "" {
		h.sendError(sessionID, CodeEmptyMessage, "Message cannot be empty")
		return
	}

	userID := chat.UserID
	if userID == "" {
		userID = "anonymous"
	}

	exec, err := h.executorFor(ctx, sessionID, userID)
	if err != nil {
		logging.Error().Err(err).Str("session", sessionID).Msg("failed to create agent executor")
		h.sendError(sessionID, CodeExecutorError, fmt.Sprintf("Failed to create agent executor: %v", err))
		return
	}

	h.conns.StartTask(sessionID, func(taskCtx context.Context) {
		for ev := range exec.Execute(taskCtx, chat.Message, sessionID) {
			h.conns.Send(sessionID, ev)
		}
	})
}

// executorFor returns the session's cached executor, building one on
// first use.
func (h *ChatHandler) executorFor(ctx context.Context, sessionID, userID string) (*executor.Executor, error) {
	h.mu.Lock()
	if exec, ok := h.executors[sessionID]; ok {
		h.mu.Unlock()
		return exec, nil
	}
	h.mu.Unlock()

	handler := hitl.NewConnectionHandler(h.conns, sessionID, h.hitlTimeout)
	exec, err := h.factory(ctx, sessionID, userID, handler)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.executors[sessionID] = exec
	h.users[sessionID] = userID
	h.mu.Unlock()
	return exec, nil
}

type decisionPayload struct {
	Decisions []hitl.Decision `json:"decisions"`
}

func (h *ChatHandler) handleHITLDecision(sessionID string, payload json.RawMessage) {
	var body decisionPayload
	_ = json.Unmarshal(payload, &body)

	if len(body.Decisions) == 0 {
		h.sendError(sessionID, CodeEmptyDecision, "Decision list cannot be empty")
		return
	}

	if !h.conns.ResolveDecision(sessionID, body.Decisions[0]) {
		h.sendError(sessionID, CodeNoPendingDecision, "No pending HITL decision to resolve")
	}
}

func (h *ChatHandler) handleCancel(sessionID string) {
	cancelled := h.conns.CancelTask(sessionID)

	reason := "no_active_task"
	if cancelled {
		reason = "user_cancelled"
	}
	h.conns.Send(sessionID, event.New(event.TypeDone, event.DoneData{
		Cancelled: true,
		Reason:    reason,
	}))
}

func (h *ChatHandler) sendError(sessionID, code, message string) {
	h.conns.Send(sessionID, event.NewProtocolError(code, message, true))
}
