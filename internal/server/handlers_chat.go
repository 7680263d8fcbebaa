package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/logging"
	"github.com/dataagent-ai/dataagent/internal/store"
)

// chatRequest is the body of POST /chat and /chat/stream.
type chatRequest struct {
	Message     string          `json:"message"`
	SessionID   string          `json:"session_id,omitempty"`
	AssistantID string          `json:"assistant_id,omitempty"`
	UserContext *userContext    `json:"user_context,omitempty"`
	HITLResp    *hitlResolution `json:"hitl_response,omitempty"`
}

type userContext struct {
	UserID string `json:"user_id"`
}

type hitlResolution struct {
	InterruptID string        `json:"interrupt_id"`
	Decision    hitl.Decision `json:"decision"`
}

// chatResponse is the body of a non-streaming chat turn.
type chatResponse struct {
	SessionID string           `json:"session_id"`
	Events    []event.Envelope `json:"events"`
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return nil, false
	}
	return &req, true
}

// resolveSession loads or lazily creates the request's session.
func (s *Server) resolveSession(ctx context.Context, req *chatRequest, userID string) (*store.Session, error) {
	if req.SessionID != "" {
		session, err := s.stores.Sessions.GetSession(ctx, req.SessionID)
		if err == nil {
			_ = s.stores.Sessions.TouchSession(ctx, session.SessionID)
			return session, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = s.cfg.AssistantID
	}
	session := &store.Session{
		SessionID:   req.SessionID,
		UserID:      userID,
		AssistantID: assistantID,
	}
	if session.SessionID == "" {
		session.SessionID = ulid.Make().String()
	}
	if err := s.stores.Sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// chatUser extracts the effective user id of a chat request.
func chatUser(req *chatRequest) string {
	if req.UserContext != nil && req.UserContext.UserID != "" {
		return req.UserContext.UserID
	}
	return "anonymous"
}

// chat handles POST /chat: the full event list is collected and
// returned in one response. Without a live return channel for
// approvals, execution runs with auto-approve.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	if req.HITLResp != nil && req.SessionID != "" {
		s.registry.Resolve(req.SessionID, req.HITLResp.InterruptID, req.HITLResp.Decision)
		if req.Message == "" {
			writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Events: []event.Envelope{}})
			return
		}
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	userID := chatUser(req)
	session, err := s.resolveSession(r.Context(), req, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	cfg := agent.DefaultConfig(session.AssistantID)
	cfg.AutoApprove = true
	exec, err := s.factory.CreateExecutor(r.Context(), cfg, session.SessionID, userID, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.appendMessage(r.Context(), session.SessionID, "user", req.Message)

	var envelopes []event.Envelope
	var assistantText strings.Builder
	for ev := range exec.Execute(r.Context(), req.Message, session.SessionID) {
		if data, ok := ev.Data.(event.TextData); ok && !data.IsFinal {
			assistantText.WriteString(data.Content)
		}
		envelopes = append(envelopes, ev.Envelope())
	}
	if assistantText.Len() > 0 {
		s.appendMessage(r.Context(), session.SessionID, "assistant", assistantText.String())
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: session.SessionID, Events: envelopes})
}

// chatStream handles POST /chat/stream: events flow out as SSE frames
// while execution runs. HITL requests park on the registry until the
// resolve endpoint (or a follow-up /chat with hitl_response) answers.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	if req.HITLResp != nil && req.SessionID != "" {
		s.registry.Resolve(req.SessionID, req.HITLResp.InterruptID, req.HITLResp.Decision)
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	userID := chatUser(req)
	session, err := s.resolveSession(r.Context(), req, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Events reach the client through one channel so the HITL handler
	// and the executor never interleave writes.
	events := make(chan event.Event, 16)
	handler := hitl.NewStreamHandler(s.registry, session.SessionID, func(e event.Event) error {
		events <- e
		return nil
	}, s.cfg.HITLTimeout())

	exec, err := s.factory.CreateExecutor(r.Context(), agent.DefaultConfig(session.AssistantID), session.SessionID, userID, handler)
	if err != nil {
		_ = sse.writeEvent("message", event.NewProtocolError(ErrCodeInternalError, err.Error(), false).Envelope())
		return
	}

	s.appendMessage(r.Context(), session.SessionID, "user", req.Message)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer close(events)
		for ev := range exec.Execute(ctx, req.Message, session.SessionID) {
			events <- ev
		}
	}()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	var assistantText strings.Builder
	for {
		select {
		case <-r.Context().Done():
			s.registry.CancelPending(session.SessionID)
			return
		case ev, open := <-events:
			if !open {
				if assistantText.Len() > 0 {
					s.appendMessage(context.Background(), session.SessionID, "assistant", assistantText.String())
				}
				return
			}
			if data, ok := ev.Data.(event.TextData); ok && !data.IsFinal {
				assistantText.WriteString(data.Content)
			}
			if err := sse.writeEvent("message", ev.Envelope()); err != nil {
				cancel()
				s.registry.CancelPending(session.SessionID)
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// resolveHITL handles POST /api/v1/sessions/{sessionID}/hitl/{interruptID}.
func (s *Server) resolveHITL(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "sessionID")
	interruptID := pathParam(r, "interruptID")

	var decision hitl.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid decision body")
		return
	}
	switch decision.Type {
	case hitl.DecisionApprove, hitl.DecisionReject, hitl.DecisionAutoApproveAll:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid decision type")
		return
	}

	if !s.registry.Resolve(sessionID, interruptID, decision) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no pending HITL request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

// appendMessage stores one conversation row, logging failures rather
// than interrupting the stream.
func (s *Server) appendMessage(ctx context.Context, sessionID, role, content string) {
	if s.stores.Messages == nil {
		return
	}
	err := s.stores.Messages.AppendMessage(ctx, &store.Message{
		MessageID: ulid.Make().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		logging.Warn().Err(err).Str("session", sessionID).Msg("failed to persist message")
	}
}
