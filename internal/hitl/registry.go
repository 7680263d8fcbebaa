package hitl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/logging"
)

// DefaultTimeout is how long a pending request waits for a decision
// before auto-rejecting.
const DefaultTimeout = 300 * time.Second

type slotKey struct {
	sessionID   string
	interruptID string
}

type slot struct {
	ch       chan Decision
	resolved bool
}

// Registry is the process-wide table of pending HITL requests, keyed by
// (session_id, interrupt_id). Each slot is one-shot: the first decision
// wins, later deliveries are logged and ignored.
type Registry struct {
	mu      sync.Mutex
	pending map[slotKey]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[slotKey]*slot)}
}

// register adds a one-shot slot and returns its receive channel.
func (r *Registry) register(sessionID, interruptID string) <-chan Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{sessionID, interruptID}
	s := &slot{ch: make(chan Decision, 1)}
	r.pending[key] = s
	return s.ch
}

// remove drops a slot regardless of its state.
func (r *Registry) remove(sessionID, interruptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, slotKey{sessionID, interruptID})
}

// Resolve delivers a decision to a pending slot. Returns false when no
// slot exists or it was already resolved.
func (r *Registry) Resolve(sessionID, interruptID string, decision Decision) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{sessionID, interruptID}
	s, ok := r.pending[key]
	if !ok {
		logging.Warn().Str("session", sessionID).Str("interrupt", interruptID).
			Msg("no pending HITL request found")
		return false
	}
	if s.resolved {
		logging.Warn().Str("session", sessionID).Str("interrupt", interruptID).
			Msg("HITL request already resolved")
		return false
	}

	s.resolved = true
	s.ch <- decision
	return true
}

// HasPending reports whether the session has any pending requests.
func (r *Registry) HasPending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.pending {
		if key.sessionID == sessionID {
			return true
		}
	}
	return false
}

// CancelPending cancels every pending request of a session and returns
// how many were cancelled. Waiters observe the cancellation as a reject.
func (r *Registry) CancelPending(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := 0
	for key, s := range r.pending {
		if key.sessionID != sessionID {
			continue
		}
		if !s.resolved {
			s.resolved = true
			close(s.ch)
			cancelled++
		}
		delete(r.pending, key)
	}

	if cancelled > 0 {
		logging.Info().Str("session", sessionID).Int("count", cancelled).
			Msg("cancelled pending HITL requests")
	}
	return cancelled
}

// EventSink receives hitl_request events for delivery to a client.
type EventSink func(e event.Event) error

// StreamHandler is the out-of-band handler shape: it emits an
// hitl_request event through a sink and parks on the registry until the
// decision arrives via a separate HTTP request, the timeout elapses, or
// the wait is cancelled.
type StreamHandler struct {
	registry  *Registry
	sessionID string
	send      EventSink
	timeout   time.Duration
}

// NewStreamHandler creates a stream-mode HITL handler for one session.
func NewStreamHandler(registry *Registry, sessionID string, send EventSink, timeout time.Duration) *StreamHandler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StreamHandler{
		registry:  registry,
		sessionID: sessionID,
		send:      send,
		timeout:   timeout,
	}
}

// newInterruptID mints a request-scoped interrupt id.
func newInterruptID() string {
	return "hitl-" + strings.ToLower(ulid.Make().String())
}

// RequestApproval implements Handler.
func (h *StreamHandler) RequestApproval(ctx context.Context, req event.ActionRequest, sessionID string) (Decision, error) {
	interruptID := newInterruptID()

	ch := h.registry.register(h.sessionID, interruptID)
	defer h.registry.remove(h.sessionID, interruptID)

	var hitlArgs map[string]any
	if req.Name == "human" {
		hitlArgs = BuildHumanArgs(req.Args)
	} else {
		hitlArgs = BuildApprovalArgs(req)
	}

	logging.Info().Str("interrupt", interruptID).Str("session", h.sessionID).
		Str("tool", req.Name).Msg("sending HITL request")

	if err := h.send(event.NewHITLRequest(interruptID, []event.ActionRequest{req}, hitlArgs)); err != nil {
		return Reject("Request cancelled"), nil
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case decision, ok := <-ch:
		if !ok {
			logging.Info().Str("interrupt", interruptID).Msg("HITL request cancelled")
			return Reject("Request cancelled"), nil
		}
		logging.Info().Str("interrupt", interruptID).Str("type", string(decision.Type)).
			Msg("HITL request resolved")
		return decision, nil
	case <-timer.C:
		logging.Warn().Str("interrupt", interruptID).Msg("HITL request timed out")
		return Reject("Approval timeout"), nil
	case <-ctx.Done():
		logging.Info().Str("interrupt", interruptID).Msg("HITL request cancelled")
		return Reject("Request cancelled"), nil
	}
}

// DecisionWaiter parks until a decision is delivered on the session's
// own connection. The connection runtime implements it.
type DecisionWaiter interface {
	SendEvent(sessionID string, e event.Event) bool
	WaitForDecision(ctx context.Context, sessionID string, timeout time.Duration) (*Decision, bool)
}

// ConnectionHandler is the same-connection handler shape: the
// hitl_request travels down the session's live connection and the
// decision comes back as a later hitl_decision client message.
type ConnectionHandler struct {
	conns     DecisionWaiter
	sessionID string
	timeout   time.Duration
}

// NewConnectionHandler creates a same-connection HITL handler.
func NewConnectionHandler(conns DecisionWaiter, sessionID string, timeout time.Duration) *ConnectionHandler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ConnectionHandler{conns: conns, sessionID: sessionID, timeout: timeout}
}

// RequestApproval implements Handler.
func (h *ConnectionHandler) RequestApproval(ctx context.Context, req event.ActionRequest, sessionID string) (Decision, error) {
	interruptID := newInterruptID()

	var hitlArgs map[string]any
	if req.Name == "human" {
		hitlArgs = BuildHumanArgs(req.Args)
	} else {
		hitlArgs = BuildApprovalArgs(req)
	}

	if !h.conns.SendEvent(h.sessionID, event.NewHITLRequest(interruptID, []event.ActionRequest{req}, hitlArgs)) {
		return Reject("Request cancelled"), nil
	}

	decision, timedOut := h.conns.WaitForDecision(ctx, h.sessionID, h.timeout)
	if decision == nil {
		if timedOut {
			return Reject("Approval timeout"), nil
		}
		return Reject("Request cancelled"), nil
	}
	return *decision, nil
}
