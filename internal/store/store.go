// Package store defines the persistence interfaces the core depends on:
// session and message history, per-user MCP configurations, and user
// profiles. Backends live in the file and sqlite subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dataagent-ai/dataagent/internal/mcp"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// User is a tenant identity.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Source      string    `json:"user_source"` // local, ldap, oauth, sso
	Role        string    `json:"role,omitempty"`
	Status      string    `json:"status"` // active, inactive, suspended
	CreatedAt   time.Time `json:"created_at"`
}

// Session is one conversation thread. Exactly one user owns a session.
type Session struct {
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	AssistantID string          `json:"assistant_id"`
	Title       string          `json:"title,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Archived    bool            `json:"archived"`
	CreatedAt   time.Time       `json:"created_at"`
	LastActive  time.Time       `json:"last_active"`
}

// Message is one append-only conversation row. Sequence is strictly
// increasing per session and assigned by the store on append.
type Message struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence_number"`
	Role      string          `json:"role"` // user, assistant, system, tool
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, error)
	// TouchSession refreshes last_active.
	TouchSession(ctx context.Context, sessionID string) error
	ArchiveSession(ctx context.Context, sessionID string) error
	// DeleteSession removes the session and cascades to its messages.
	DeleteSession(ctx context.Context, sessionID string) error
	// CleanupExpired removes sessions idle longer than maxIdle,
	// cascading to messages. Returns how many were removed.
	CleanupExpired(ctx context.Context, maxIdle time.Duration) (int, error)
}

// MessageStore persists session messages.
type MessageStore interface {
	// AppendMessage assigns the next sequence number and stores the
	// message.
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error)
}

// MCPConfigStore persists per-user MCP server configurations.
type MCPConfigStore interface {
	GetUserConfig(ctx context.Context, userID string) (mcp.Config, error)
	SaveUserConfig(ctx context.Context, userID string, cfg mcp.Config) error
	DeleteUserConfig(ctx context.Context, userID string) (bool, error)
	AddServer(ctx context.Context, userID string, server mcp.ServerConfig) error
	RemoveServer(ctx context.Context, userID, serverName string) (bool, error)
	GetServer(ctx context.Context, userID, serverName string) (*mcp.ServerConfig, error)
}

// UserStore persists user profiles.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
}
