package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// ToolDescriptor is one tool exported by a connected server. Name is
// prefixed with the sanitized server name so tool sets from different
// servers never collide.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Server      string          `json:"server"`
	AutoApprove bool            `json:"autoApprove,omitempty"`
}

// Session is a live client session to one MCP server.
type Session interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Dialer opens a session and returns the server's initial tool list.
// The pool's production dialer uses the MCP SDK; tests inject fakes.
type Dialer func(ctx context.Context, cfg ServerConfig) (Session, []ToolDescriptor, error)

// Connection is the runtime handle for one (user, server) pair.
type Connection struct {
	Config    ServerConfig
	Tools     []ToolDescriptor
	Connected bool
	Error     string

	session Session
}

// Status summarizes a connection for status endpoints.
type Status struct {
	Connected  bool   `json:"connected"`
	ToolsCount int    `json:"tools_count"`
	Error      string `json:"error,omitempty"`
}

// Pool manages per-user MCP connections with a per-user cap and a
// global cap. A single lock guards the connection table and counters;
// connect attempts are issued under it.
type Pool struct {
	maxPerUser int
	maxTotal   int
	dial       Dialer

	mu    sync.Mutex
	conns map[string]map[string]*Connection
	total int
}

// NewPool creates a connection pool. A nil dialer uses the SDK dialer.
func NewPool(maxPerUser, maxTotal int, dial Dialer) *Pool {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	if maxTotal <= 0 {
		maxTotal = 100
	}
	if dial == nil {
		dial = SDKDialer("dataagent")
	}
	return &Pool{
		maxPerUser: maxPerUser,
		maxTotal:   maxTotal,
		dial:       dial,
		conns:      make(map[string]map[string]*Connection),
	}
}

// Connect opens connections for every enabled server in the user's
// config that is not already connected, stopping silently when the
// per-user or global cap fills. Individual failures are recorded on the
// connection and never propagate.
func (p *Pool) Connect(ctx context.Context, userID string, cfg Config) map[string]*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	userConns, ok := p.conns[userID]
	if !ok {
		userConns = make(map[string]*Connection)
		p.conns[userID] = userConns
	}

	for _, server := range cfg.EnabledServers() {
		if existing, ok := userConns[server.Name]; ok && existing.Connected {
			continue
		}

		if len(userConns) >= p.maxPerUser {
			logging.Warn().Str("user", userID).Int("max", p.maxPerUser).
				Msg("user reached max MCP connections")
			break
		}
		if p.total >= p.maxTotal {
			logging.Warn().Int("max", p.maxTotal).Msg("total MCP connections limit reached")
			break
		}

		conn := &Connection{Config: server}
		session, tools, err := p.dial(ctx, server)
		if err != nil {
			conn.Error = err.Error()
			logging.Warn().Err(err).Str("user", userID).Str("server", server.Name).
				Msg("failed to connect to MCP server")
		} else {
			conn.session = session
			conn.Tools = prefixTools(server, tools)
			conn.Connected = true
			p.total++
			logging.Info().Str("user", userID).Str("server", server.Name).
				Int("tools", len(conn.Tools)).Msg("connected to MCP server")
		}
		userConns[server.Name] = conn
	}

	out := make(map[string]*Connection, len(userConns))
	for name, conn := range userConns {
		out[name] = conn
	}
	return out
}

// Disconnect closes one server connection, or all of the user's when
// serverName is empty. Safe to call when nothing is mapped.
func (p *Pool) Disconnect(userID, serverName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userConns, ok := p.conns[userID]
	if !ok {
		return
	}

	var targets []string
	if serverName != "" {
		if _, ok := userConns[serverName]; ok {
			targets = []string{serverName}
		}
	} else {
		for name := range userConns {
			targets = append(targets, name)
		}
	}

	for _, name := range targets {
		conn := userConns[name]
		if conn.session != nil {
			if err := conn.session.Close(); err != nil {
				logging.Warn().Err(err).Str("server", name).Msg("error disconnecting MCP server")
			}
		}
		if conn.Connected {
			p.total--
		}
		delete(userConns, name)
		logging.Info().Str("user", userID).Str("server", name).Msg("disconnected MCP server")
	}

	if len(userConns) == 0 {
		delete(p.conns, userID)
	}
}

// DisconnectAll closes every connection in the pool.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	users := make([]string, 0, len(p.conns))
	for userID := range p.conns {
		users = append(users, userID)
	}
	p.mu.Unlock()

	for _, userID := range users {
		p.Disconnect(userID, "")
	}
}

// GetTools returns the flat tool list across the user's connected
// servers. Failed servers are transparently excluded; an empty list is
// a valid state.
func (p *Pool) GetTools(userID string) []ToolDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tools []ToolDescriptor
	for _, conn := range p.conns[userID] {
		if conn.Connected {
			tools = append(tools, conn.Tools...)
		}
	}
	return tools
}

// CallTool routes a prefixed tool name to the owning connection of this
// user and executes it.
func (p *Pool) CallTool(ctx context.Context, userID, toolName string, args map[string]any) (string, error) {
	p.mu.Lock()
	var target *Connection
	var original string
	for _, conn := range p.conns[userID] {
		if !conn.Connected {
			continue
		}
		prefix := sanitizeToolName(conn.Config.Name) + "_"
		if strings.HasPrefix(toolName, prefix) {
			target = conn
			original = strings.TrimPrefix(toolName, prefix)
			break
		}
	}
	p.mu.Unlock()

	if target == nil {
		return "", fmt.Errorf("no server found for tool: %s", toolName)
	}
	return target.session.CallTool(ctx, original, args)
}

// ConnectionStatus reports per-server status for a user.
func (p *Pool) ConnectionStatus(userID string) map[string]Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Status)
	for name, conn := range p.conns[userID] {
		out[name] = Status{
			Connected:  conn.Connected,
			ToolsCount: len(conn.Tools),
			Error:      conn.Error,
		}
	}
	return out
}

// HealthCheck reports per-server liveness: connected with a live
// session. This is a state check, not a deep probe.
func (p *Pool) HealthCheck(userID string) map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool)
	for name, conn := range p.conns[userID] {
		out[name] = conn.Connected && conn.session != nil
	}
	return out
}

// TotalConnections returns the number of live connections in the pool.
func (p *Pool) TotalConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// UserCount returns the number of users with pool entries.
func (p *Pool) UserCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// prefixTools namespaces tool names with the sanitized server name and
// marks auto-approved tools from the server config.
func prefixTools(server ServerConfig, tools []ToolDescriptor) []ToolDescriptor {
	autoApprove := make(map[string]bool, len(server.AutoApprove))
	for _, name := range server.AutoApprove {
		autoApprove[name] = true
	}

	out := make([]ToolDescriptor, len(tools))
	for i, tool := range tools {
		out[i] = ToolDescriptor{
			Name:        sanitizeToolName(server.Name) + "_" + sanitizeToolName(tool.Name),
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      server.Name,
			AutoApprove: autoApprove[tool.Name],
		}
	}
	return out
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
