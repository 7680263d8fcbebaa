package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/logging"
	"github.com/dataagent-ai/dataagent/internal/mcp"
)

// Options configures an Executor.
type Options struct {
	// AssistantID is attached to every round as backend metadata.
	AssistantID string
	// SystemPrompt is the base prompt before middleware injection.
	SystemPrompt string
	// Handler resolves HITL interrupts. Nil auto-approves everything.
	Handler hitl.Handler
	// Middleware is applied before each model call.
	Middleware Chain
	// Tracker correlates file tool calls into file_operation events.
	Tracker *FileTracker
	// Tools is the session's tool set, forwarded to the backend on
	// every round.
	Tools []mcp.ToolDescriptor
}

// Executor drives one agent execution at a time against a streaming
// backend, emitting the typed event sequence. The stream always ends
// with exactly one terminator: a single done or a single error event.
type Executor struct {
	backend Backend
	opts    Options
}

// New creates an executor.
func New(backend Backend, opts Options) *Executor {
	return &Executor{backend: backend, opts: opts}
}

// Execute runs userInput for a session and returns the event stream.
// The channel is closed after the terminator event.
func (e *Executor) Execute(ctx context.Context, userInput, sessionID string) <-chan event.Event {
	ch := make(chan event.Event, 16)

	go func() {
		defer close(ch)
		emit := func(ev event.Event) { ch <- ev }

		err := e.run(ctx, userInput, sessionID, emit)
		switch {
		case err == nil:
			// Terminator already emitted by run.
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			emit(event.NewDone(true, nil))
		default:
			logging.Error().Err(err).Str("session", sessionID).Msg("agent execution failed")
			emit(event.NewError(err.Error(), false))
		}
	}()

	return ch
}

// toolCallBuffer accumulates partial tool call chunks until the id,
// name, and a complete JSON argument object are known.
type toolCallBuffer struct {
	name      string
	id        string
	argsParts []string
}

func (e *Executor) run(ctx context.Context, userInput, sessionID string, emit func(event.Event)) error {
	state := &AgentState{
		SessionID:   sessionID,
		AssistantID: e.opts.AssistantID,
		UserQuery:   userInput,
	}
	if err := e.opts.Middleware.BeforeAgent(state); err != nil {
		return err
	}

	displayed := make(map[string]bool)
	buffers := make(map[string]*toolCallBuffer)
	pendingText := false
	var currentTodos []event.Todo
	haveTodos := false
	var usage *event.TokenUsage

	input := StreamInput{
		Messages:    []*schema.Message{{Role: schema.User, Content: userInput}},
		ThreadID:    sessionID,
		AssistantID: e.opts.AssistantID,
		Tools:       e.opts.Tools,
	}

	for {
		req := &ModelRequest{SystemPrompt: e.opts.SystemPrompt, State: state}
		if err := e.opts.Middleware.Apply(req); err != nil {
			return err
		}
		input.SystemPrompt = req.SystemPrompt

		var pendingInterrupts []Interrupt
		seenInterrupts := make(map[string]bool)

		stream, err := e.backend.Stream(ctx, input)
		if err != nil {
			return err
		}

	recv:
		for {
			select {
			case <-ctx.Done():
				stream.Close()
				return ctx.Err()
			default:
			}

			chunk, err := stream.Recv()
			if err == io.EOF {
				break recv
			}
			if err != nil {
				stream.Close()
				return err
			}
			if chunk == nil {
				continue
			}

			switch chunk.Mode {
			case ModeUpdates:
				for _, interrupt := range chunk.Interrupts {
					if !seenInterrupts[interrupt.ID] {
						seenInterrupts[interrupt.ID] = true
						pendingInterrupts = append(pendingInterrupts, interrupt)
					}
				}
				if chunk.HasTodos && (!haveTodos || !todosEqual(chunk.Todos, currentTodos)) {
					haveTodos = true
					currentTodos = chunk.Todos
					emit(event.NewTodoUpdate(chunk.Todos))
				}

			case ModeMessages:
				msg := chunk.Message
				if msg == nil {
					continue
				}

				if msg.Role == schema.Tool {
					status := ToolStatus(msg)
					emit(event.NewToolResult(msg.ToolCallID, msg.Content, status))
					if e.opts.Tracker != nil {
						if record := e.opts.Tracker.Complete(msg.ToolCallID, status); record != nil {
							emit(event.NewFileOperation(*record))
						}
					}
					continue
				}

				if msg.Content != "" {
					pendingText = true
					emit(event.NewText(msg.Content, false))
				}

				for _, tc := range msg.ToolCalls {
					e.processToolChunk(tc, buffers, displayed, emit)
				}

				if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
					usage = &event.TokenUsage{
						Input:  msg.ResponseMeta.Usage.PromptTokens,
						Output: msg.ResponseMeta.Usage.CompletionTokens,
					}
				}

				if chunk.Last && pendingText {
					emit(event.NewText("", true))
					pendingText = false
				}
			}
		}
		stream.Close()

		if len(pendingInterrupts) == 0 {
			emit(event.NewDone(false, usage))
			return nil
		}

		resume, err := e.handleInterrupts(ctx, pendingInterrupts, sessionID)
		if err != nil {
			return err
		}
		if resume == nil {
			emit(event.NewDone(true, nil))
			return nil
		}

		input = StreamInput{
			Resume:      resume,
			ThreadID:    sessionID,
			AssistantID: e.opts.AssistantID,
			Tools:       e.opts.Tools,
		}
	}
}

// processToolChunk merges a partial tool call chunk into its buffer and
// emits exactly one tool_call event once id, name, and a complete JSON
// argument object are known. The buffer entry is discarded after the
// announce; later chunks for an announced id only update tracker args.
func (e *Executor) processToolChunk(
	tc schema.ToolCall,
	buffers map[string]*toolCallBuffer,
	displayed map[string]bool,
	emit func(event.Event),
) {
	var key string
	switch {
	case tc.Index != nil:
		key = fmt.Sprintf("idx:%d", *tc.Index)
	case tc.ID != "":
		key = tc.ID
	default:
		key = fmt.Sprintf("unknown-%d", len(buffers))
	}

	buf, ok := buffers[key]
	if !ok {
		buf = &toolCallBuffer{}
		buffers[key] = buf
	}

	if tc.Function.Name != "" {
		buf.name = tc.Function.Name
	}
	if tc.ID != "" {
		buf.id = tc.ID
	}
	if tc.Function.Arguments != "" {
		// Some backends resend identical fragments; append unique ones only.
		if len(buf.argsParts) == 0 || buf.argsParts[len(buf.argsParts)-1] != tc.Function.Arguments {
			buf.argsParts = append(buf.argsParts, tc.Function.Arguments)
		}
	}

	if buf.name == "" || buf.id == "" {
		return
	}

	raw := ""
	for _, part := range buf.argsParts {
		raw += part
	}
	if raw == "" {
		return
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return // incomplete JSON, keep buffering
	}

	args, ok := parsed.(map[string]any)
	if !ok {
		args = map[string]any{"value": parsed}
	}

	if !displayed[buf.id] {
		displayed[buf.id] = true
		if e.opts.Tracker != nil {
			e.opts.Tracker.StartOperation(buf.name, args, buf.id)
		}
		emit(event.NewToolCall(buf.name, args, buf.id))
	} else if e.opts.Tracker != nil {
		e.opts.Tracker.UpdateArgs(buf.id, args)
	}

	delete(buffers, key)
}

// handleInterrupts resolves the round's interrupts into a resume map.
// A nil map signals that a request was rejected (or the collective wait
// failed) and the round must terminate with done(cancelled=true).
func (e *Executor) handleInterrupts(
	ctx context.Context,
	interrupts []Interrupt,
	sessionID string,
) (map[string][]hitl.Decision, error) {
	resume := make(map[string][]hitl.Decision)

	if e.opts.Handler == nil {
		for _, interrupt := range interrupts {
			decisions := make([]hitl.Decision, len(interrupt.ActionRequests))
			for i := range decisions {
				decisions[i] = hitl.Approve()
			}
			resume[interrupt.ID] = decisions
		}
		return resume, nil
	}

	autoApproveAll := false
	for _, interrupt := range interrupts {
		var decisions []hitl.Decision
		for _, request := range interrupt.ActionRequests {
			decision := hitl.Approve()
			if !autoApproveAll {
				var err error
				decision, err = e.opts.Handler.RequestApproval(ctx, request, sessionID)
				if err != nil {
					return nil, err
				}
				if decision.Type == hitl.DecisionAutoApproveAll {
					autoApproveAll = true
					decision = hitl.Approve()
				}
			}
			if decision.Type == hitl.DecisionReject {
				return nil, nil
			}
			decisions = append(decisions, decision)
		}
		resume[interrupt.ID] = decisions
	}
	return resume, nil
}

func todosEqual(a, b []event.Todo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
