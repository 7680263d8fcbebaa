package server

import (
	"encoding/json"
	"net/http"

	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/store"
)

// listMCPServers handles GET /api/v1/users/{userID}/mcp/servers.
func (s *Server) listMCPServers(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	cfg, err := s.stores.MCPConfigs.GetUserConfig(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// mcpServerBody is the add/update request body.
type mcpServerBody struct {
	Name string `json:"name"`
	mcp.ServerConfig
}

// addMCPServer handles POST .../mcp/servers and PUT .../{serverName}.
func (s *Server) addMCPServer(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var body mcpServerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	server := body.ServerConfig
	server.Name = body.Name
	if name := pathParam(r, "serverName"); name != "" {
		server.Name = name
	}
	if server.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "server name is required")
		return
	}
	if err := server.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := s.stores.MCPConfigs.AddServer(r.Context(), userID, server); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// A replaced config invalidates any live connection to it.
	s.pool.Disconnect(userID, server.Name)
	writeJSON(w, http.StatusOK, server)
}

// getMCPServer handles GET .../mcp/servers/{serverName}.
func (s *Server) getMCPServer(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	server, err := s.stores.MCPConfigs.GetServer(r.Context(), userID, pathParam(r, "serverName"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "server not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// deleteMCPServer handles DELETE .../mcp/servers/{serverName}. The live
// connection, if any, is closed with the config.
func (s *Server) deleteMCPServer(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	serverName := pathParam(r, "serverName")
	removed, err := s.stores.MCPConfigs.RemoveServer(r.Context(), userID, serverName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "server not found")
		return
	}

	s.pool.Disconnect(userID, serverName)
	writeSuccess(w)
}

// mcpStatus handles GET .../mcp/servers/status.
func (s *Server) mcpStatus(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.pool.ConnectionStatus(userID),
		"health": s.pool.HealthCheck(userID),
	})
}

// connectMCP handles POST .../mcp/servers/connect: connects every
// enabled configured server.
func (s *Server) connectMCP(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	cfg, err := s.stores.MCPConfigs.GetUserConfig(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.pool.Connect(r.Context(), userID, cfg)
	writeJSON(w, http.StatusOK, map[string]any{"status": s.pool.ConnectionStatus(userID)})
}

// disconnectMCP handles POST .../mcp/servers/disconnect.
func (s *Server) disconnectMCP(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if !s.authorize(w, r, userID) {
		return
	}

	var body struct {
		Server string `json:"server,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.pool.Disconnect(userID, body.Server)
	writeSuccess(w)
}
