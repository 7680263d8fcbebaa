package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dataagent-ai/dataagent/internal/store"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func queryInt(r *http.Request, name, fallback string) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		value = fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

// listSessions handles GET /api/v1/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := queryInt(r, "limit", "50")
	offset := queryInt(r, "offset", "0")

	if userID != "" && !s.authorize(w, r, userID) {
		return
	}

	sessions, err := s.stores.Sessions.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// getSession handles GET /api/v1/sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// deleteSession handles DELETE /api/v1/sessions/{sessionID}; messages
// cascade with the session.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if err := s.stores.Sessions.DeleteSession(r.Context(), session.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// archiveSession handles POST /api/v1/sessions/{sessionID}/archive.
func (s *Server) archiveSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if err := s.stores.Sessions.ArchiveSession(r.Context(), session.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// getMessages handles GET /api/v1/sessions/{sessionID}/messages with
// limit/offset pagination.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", "100")
	offset := queryInt(r, "offset", "0")

	messages, err := s.stores.Messages.ListMessages(r.Context(), session.SessionID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.SessionID,
		"messages":   messages,
		"limit":      limit,
		"offset":     offset,
	})
}

// loadSession fetches the session and enforces owner/admin access.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	sessionID := pathParam(r, "sessionID")

	session, err := s.stores.Sessions.GetSession(r.Context(), sessionID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return nil, false
	}

	if !s.authorize(w, r, session.UserID) {
		return nil, false
	}
	return session, true
}
