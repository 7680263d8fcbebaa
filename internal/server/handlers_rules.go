package server

import (
	"encoding/json"
	"net/http"

	"github.com/dataagent-ai/dataagent/internal/rules"
)

// listRules handles GET /api/v1/users/{userID}/rules.
func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var scope *rules.Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		sc := rules.Scope(raw)
		if !sc.Valid() {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid scope")
			return
		}
		scope = &sc
	}

	list := s.userRuleStore(userID).ListRules(scope)
	if list == nil {
		list = []*rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list})
}

// saveRuleBody is the save request: raw rule file content plus the
// target scope.
type saveRuleBody struct {
	Content string      `json:"content"`
	Scope   rules.Scope `json:"scope,omitempty"`
}

// saveRule handles POST /api/v1/users/{userID}/rules. The content is a
// complete rule file (frontmatter + body) and is validated by parsing.
func (s *Server) saveRule(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var body saveRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	scope := body.Scope
	if scope == "" {
		scope = rules.ScopeUser
	}
	if !scope.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid scope")
		return
	}

	rule, err := s.ruleParser.ParseContent(body.Content, scope, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := s.userRuleStore(userID).SaveRule(rule); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// getRule handles GET /api/v1/users/{userID}/rules/{ruleName}.
func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var scope *rules.Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		sc := rules.Scope(raw)
		scope = &sc
	}

	rule := s.userRuleStore(userID).GetRule(pathParam(r, "ruleName"), scope)
	if rule == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// deleteRule handles DELETE /api/v1/users/{userID}/rules/{ruleName}.
func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	scope := rules.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = rules.ScopeUser
	}

	deleted, err := s.userRuleStore(userID).DeleteRule(pathParam(r, "ruleName"), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "rule not found")
		return
	}
	writeSuccess(w)
}

// validateRule handles POST /api/v1/users/{userID}/rules/validate.
func (s *Server) validateRule(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	valid, errs, warnings := s.ruleParser.ValidateContent(body.Content)
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    valid,
		"errors":   errs,
		"warnings": warnings,
	})
}

// ruleConflicts handles GET /api/v1/users/{userID}/rules/conflicts.
func (s *Server) ruleConflicts(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	conflicts := s.ruleMerger.DetectConflicts(s.userRuleStore(userID).ListRules(nil))
	if conflicts == nil {
		conflicts = []rules.NameConflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

// reloadRules handles POST /api/v1/users/{userID}/rules/reload.
func (s *Server) reloadRules(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	if err := s.userRuleStore(userID).Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}
