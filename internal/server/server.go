// Package server provides the REST control plane: health, chat (plain
// and streaming), session and message history, user-scoped MCP and rule
// CRUD, and HITL resolution for stream-mode approvals.
package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/rules"
	"github.com/dataagent-ai/dataagent/internal/runtime"
	"github.com/dataagent-ai/dataagent/internal/store"
	"github.com/dataagent-ai/dataagent/internal/version"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

// Stores bundles the storage interfaces the server consumes.
type Stores struct {
	Sessions   store.SessionStore
	Messages   store.MessageStore
	MCPConfigs store.MCPConfigStore
	Users      store.UserStore
}

// Server is the HTTP control plane.
type Server struct {
	cfg     config.Config
	router  *chi.Mux
	httpSrv *http.Server

	stores     Stores
	factory    *agent.Factory
	pool       *mcp.Pool
	workspaces *workspace.Manager
	registry   *hitl.Registry
	bus        *event.Bus

	ruleParser *rules.Parser
	ruleMerger *rules.Merger

	ruleMu     sync.Mutex
	ruleStores map[string]*rules.FileStore

	chatHandler *runtime.ChatHandler

	startTime time.Time
}

// AttachRuntime binds the connection/session runtime's chat handler.
// The WebSocket (or other framed) transport mounts on top of it; the
// core never frames bytes itself.
func (s *Server) AttachRuntime(h *runtime.ChatHandler) {
	s.chatHandler = h
}

// Runtime returns the attached chat handler, or nil.
func (s *Server) Runtime() *runtime.ChatHandler {
	return s.chatHandler
}

// New creates a Server instance.
func New(cfg config.Config, stores Stores, factory *agent.Factory, pool *mcp.Pool, workspaces *workspace.Manager, registry *hitl.Registry, bus *event.Bus) *Server {
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		stores:     stores,
		factory:    factory,
		pool:       pool,
		workspaces: workspaces,
		registry:   registry,
		bus:        bus,
		ruleParser: rules.NewParser(),
		ruleMerger: rules.NewMerger(0),
		ruleStores: make(map[string]*rules.FileStore),
		startTime:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health)

	s.router.Post("/chat", s.chat)
	s.router.Post("/chat/stream", s.chatStream)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Post("/archive", s.archiveSession)
				r.Get("/messages", s.getMessages)
				r.Post("/hitl/{interruptID}", s.resolveHITL)
			})
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Route("/mcp/servers", func(r chi.Router) {
				r.Get("/", s.listMCPServers)
				r.Post("/", s.addMCPServer)
				r.Get("/status", s.mcpStatus)
				r.Post("/connect", s.connectMCP)
				r.Post("/disconnect", s.disconnectMCP)
				r.Route("/{serverName}", func(r chi.Router) {
					r.Get("/", s.getMCPServer)
					r.Put("/", s.addMCPServer)
					r.Delete("/", s.deleteMCPServer)
				})
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.listRules)
				r.Post("/", s.saveRule)
				r.Post("/validate", s.validateRule)
				r.Get("/conflicts", s.ruleConflicts)
				r.Post("/reload", s.reloadRules)
				r.Route("/{ruleName}", func(r chi.Router) {
					r.Get("/", s.getRule)
					r.Delete("/", s.deleteRule)
				})
			})
		})
	})
}

// health reports server liveness.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}

// requester returns the requesting identity from headers.
func requester(r *http.Request) (userID, role string) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role")
}

// authorize enforces that the requester is the target user or an
// admin. Denials are written to the audit log.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, targetUserID string) bool {
	userID, role := requester(r)

	if role == "admin" {
		return true
	}
	if userID != "" && s.stores.Users != nil {
		if user, err := s.stores.Users.GetUser(r.Context(), userID); err == nil && user.Role == "admin" {
			return true
		}
	}
	if userID == targetUserID {
		return true
	}

	auditDenied(r, userID, targetUserID)
	writeError(w, http.StatusForbidden, ErrCodePermissionDenied,
		"requester does not match target user")
	return false
}

// userRuleStore returns (building if needed) the per-user rule store:
// global scope shared, user scope under the user's rules directory,
// project scope from the configured project.
func (s *Server) userRuleStore(userID string) *rules.FileStore {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	if ruleStore, ok := s.ruleStores[userID]; ok {
		return ruleStore
	}

	userDir := ""
	if s.cfg.UserRulesDir != "" {
		userDir = filepath.Join(s.cfg.UserRulesDir, workspace.SanitizeUserID(userID), "rules")
	}
	projectDir := ""
	if s.cfg.ProjectDir != "" {
		projectDir = filepath.Join(s.cfg.ProjectDir, ".dataagent", "rules")
	}

	ruleStore := rules.NewFileStore(s.cfg.GlobalRulesDir, userDir, projectDir)
	s.ruleStores[userID] = ruleStore
	return ruleStore
}

// Router returns the chi router, for tests and embedding.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /chat/stream holds the response open.
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
