// Package runtime maintains the bounded pool of live client
// connections, binds each session to its active execution task, and
// correlates pending HITL decisions delivered on the same connection.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/logging"
)

// CloseCapacity is the close code sent when the connection pool is full.
const CloseCapacity = 1013

// Conn is a live client connection. The transport (WebSocket or
// otherwise) sits behind it; the runtime never frames bytes itself.
type Conn interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// task tracks one active execution so cancellation can reach it.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// decisionSlot is a one-shot rendezvous for a same-connection HITL
// decision. A nil delivery signals cancellation.
type decisionSlot struct {
	ch       chan *hitl.Decision
	resolved bool
}

// Manager owns the session maps: connection, active task, and pending
// decision per session. One lock guards all three and is held only for
// map updates, never across I/O.
type Manager struct {
	maxConnections int
	registry       *hitl.Registry

	mu          sync.Mutex
	connections map[string]Conn
	tasks       map[string]*task
	decisions   map[string]*decisionSlot
}

// NewManager creates a connection manager. The optional HITL registry
// has its per-session slots cancelled on disconnect.
func NewManager(maxConnections int, registry *hitl.Registry) *Manager {
	if maxConnections <= 0 {
		maxConnections = 100
	}
	return &Manager{
		maxConnections: maxConnections,
		registry:       registry,
		connections:    make(map[string]Conn),
		tasks:          make(map[string]*task),
		decisions:      make(map[string]*decisionSlot),
	}
}

// Connect admits a connection for a session. At capacity the connection
// is refused and closed with a capacity reason; existing sessions are
// unaffected.
func (m *Manager) Connect(conn Conn, sessionID string) bool {
	m.mu.Lock()
	if _, exists := m.connections[sessionID]; !exists && len(m.connections) >= m.maxConnections {
		m.mu.Unlock()
		logging.Warn().Str("session", sessionID).Int("max", m.maxConnections).
			Msg("connection refused: service at capacity")
		_ = conn.Close(CloseCapacity, "Service at capacity")
		return false
	}
	old := m.connections[sessionID]
	m.connections[sessionID] = conn
	m.mu.Unlock()

	if old != nil {
		_ = old.Close(1000, "replaced by new connection")
	}

	logging.Info().Str("session", sessionID).Msg("client connected")
	return true
}

// Disconnect tears a session down: the active task is cancelled, any
// pending decision resolves as cancelled, and all three map entries are
// removed. Safe when the session is unknown.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	conn := m.connections[sessionID]
	delete(m.connections, sessionID)
	activeTask := m.tasks[sessionID]
	delete(m.tasks, sessionID)
	if slot := m.decisions[sessionID]; slot != nil && !slot.resolved {
		slot.resolved = true
		slot.ch <- nil
	}
	delete(m.decisions, sessionID)
	m.mu.Unlock()

	if activeTask != nil {
		activeTask.cancel()
	}
	if m.registry != nil {
		m.registry.CancelPending(sessionID)
	}
	if conn != nil {
		_ = conn.Close(1000, "")
	}

	logging.Info().Str("session", sessionID).Msg("client disconnected")
}

// Send serializes an event to the session's connection. Returns false
// for unknown sessions; a write error evicts the session.
func (m *Manager) Send(sessionID string, e event.Event) bool {
	m.mu.Lock()
	conn, ok := m.connections[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := conn.WriteJSON(e.Envelope()); err != nil {
		logging.Warn().Err(err).Str("session", sessionID).Msg("write failed, evicting session")
		m.Disconnect(sessionID)
		return false
	}
	return true
}

// SendEvent implements hitl.DecisionWaiter.
func (m *Manager) SendEvent(sessionID string, e event.Event) bool {
	return m.Send(sessionID, e)
}

// StartTask launches fn as the session's active task. Any previous task
// is cancelled first. The task's context is cancelled on CancelTask and
// Disconnect.
func (m *Manager) StartTask(sessionID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	previous := m.tasks[sessionID]
	m.tasks[sessionID] = t
	m.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}

	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)

		m.mu.Lock()
		if m.tasks[sessionID] == t {
			delete(m.tasks, sessionID)
		}
		m.mu.Unlock()
	}()
}

// CancelTask cancels the session's active task. Returns whether one was
// active.
func (m *Manager) CancelTask(sessionID string) bool {
	m.mu.Lock()
	t := m.tasks[sessionID]
	delete(m.tasks, sessionID)
	m.mu.Unlock()

	if t == nil {
		return false
	}
	t.cancel()
	return true
}

// HasTask reports whether the session has an active task.
func (m *Manager) HasTask(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[sessionID]
	return ok
}

// WaitForDecision registers a one-shot decision slot for the session
// and parks until a decision arrives, the timeout fires, or the wait is
// cancelled. Returns (nil, true) on timeout and (nil, false) when the
// connection dropped or the context was cancelled.
func (m *Manager) WaitForDecision(ctx context.Context, sessionID string, timeout time.Duration) (*hitl.Decision, bool) {
	slot := &decisionSlot{ch: make(chan *hitl.Decision, 1)}

	m.mu.Lock()
	m.decisions[sessionID] = slot
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.decisions[sessionID] == slot {
			delete(m.decisions, sessionID)
		}
		m.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-slot.ch:
		return decision, false
	case <-timer.C:
		return nil, true
	case <-ctx.Done():
		return nil, false
	}
}

// ResolveDecision completes the session's pending decision slot.
// Returns false when no slot is pending or it was already completed.
func (m *Manager) ResolveDecision(sessionID string, decision hitl.Decision) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.decisions[sessionID]
	if !ok || slot.resolved {
		return false
	}
	slot.resolved = true
	slot.ch <- &decision
	return true
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// IsConnected reports whether a session has a live connection.
func (m *Manager) IsConnected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.connections[sessionID]
	return ok
}
