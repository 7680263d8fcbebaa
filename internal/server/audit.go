package server

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// auditDenied records an authorization denial in the audit trail.
func auditDenied(r *http.Request, requesterID, targetUserID string) {
	logging.Warn().
		Str("audit", "authorization_denied").
		Str("requester", requesterID).
		Str("target_user", targetUserID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("remote", r.RemoteAddr).
		Msg("access denied")
}
