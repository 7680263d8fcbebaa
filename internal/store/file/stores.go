package file

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/store"
)

// Stores bundles the file-backed implementations of the core storage
// interfaces over one Storage root.
type Stores struct {
	storage *Storage

	seqMu sync.Mutex
}

// NewStores creates the file-backed store set rooted at basePath.
func NewStores(basePath string) *Stores {
	return &Stores{storage: New(basePath)}
}

var (
	_ store.SessionStore   = (*Stores)(nil)
	_ store.MessageStore   = (*Stores)(nil)
	_ store.MCPConfigStore = (*Stores)(nil)
	_ store.UserStore      = (*Stores)(nil)
)

// CreateSession implements store.SessionStore.
func (s *Stores) CreateSession(ctx context.Context, session *store.Session) error {
	return s.storage.Put(ctx, []string{"session", session.SessionID}, session)
}

// GetSession implements store.SessionStore.
func (s *Stores) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	var session store.Session
	if err := s.storage.Get(ctx, []string{"session", sessionID}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions implements store.SessionStore. Sessions are ordered by
// last activity, most recent first.
func (s *Stores) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*store.Session, error) {
	var sessions []*store.Session
	err := s.storage.Scan(ctx, []string{"session"}, func(_ string, data json.RawMessage) error {
		var session store.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil // skip corrupt records
		}
		if userID == "" || session.UserID == userID {
			sessions = append(sessions, &session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
	return paginate(sessions, limit, offset), nil
}

// TouchSession implements store.SessionStore.
func (s *Stores) TouchSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.LastActive = time.Now()
	return s.storage.Put(ctx, []string{"session", sessionID}, session)
}

// ArchiveSession implements store.SessionStore.
func (s *Stores) ArchiveSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.Archived = true
	return s.storage.Put(ctx, []string{"session", sessionID}, session)
}

// DeleteSession implements store.SessionStore, cascading to messages.
func (s *Stores) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.storage.Delete(ctx, []string{"session", sessionID}); err != nil {
		return err
	}

	keys, err := s.storage.List(ctx, []string{"message", sessionID})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.storage.Delete(ctx, []string{"message", sessionID, key}); err != nil {
			return err
		}
	}
	return nil
}

// CleanupExpired implements store.SessionStore.
func (s *Stores) CleanupExpired(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxIdle)

	var expired []string
	err := s.storage.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var session store.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil
		}
		if session.LastActive.Before(cutoff) {
			expired = append(expired, session.SessionID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, sessionID := range expired {
		if err := s.DeleteSession(ctx, sessionID); err != nil {
			return len(expired), err
		}
	}
	return len(expired), nil
}

// AppendMessage implements store.MessageStore. Sequence numbers are
// strictly increasing per session.
func (s *Stores) AppendMessage(ctx context.Context, msg *store.Message) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var maxSeq int64
	err := s.storage.Scan(ctx, []string{"message", msg.SessionID}, func(_ string, data json.RawMessage) error {
		var existing store.Message
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil
		}
		if existing.Sequence > maxSeq {
			maxSeq = existing.Sequence
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg.Sequence = maxSeq + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.storage.Put(ctx, []string{"message", msg.SessionID, msg.MessageID}, msg)
}

// ListMessages implements store.MessageStore, ordered by sequence.
func (s *Stores) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*store.Message, error) {
	var messages []*store.Message
	err := s.storage.Scan(ctx, []string{"message", sessionID}, func(_ string, data json.RawMessage) error {
		var msg store.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil
		}
		messages = append(messages, &msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Sequence < messages[j].Sequence
	})
	return paginate(messages, limit, offset), nil
}

// GetUserConfig implements store.MCPConfigStore.
func (s *Stores) GetUserConfig(ctx context.Context, userID string) (mcp.Config, error) {
	var cfg mcp.Config
	err := s.storage.Get(ctx, []string{"mcp", userID}, &cfg)
	if err == store.ErrNotFound {
		return mcp.Config{Servers: map[string]mcp.ServerConfig{}}, nil
	}
	if err != nil {
		return mcp.Config{}, err
	}
	return cfg, nil
}

// SaveUserConfig implements store.MCPConfigStore.
func (s *Stores) SaveUserConfig(ctx context.Context, userID string, cfg mcp.Config) error {
	return s.storage.Put(ctx, []string{"mcp", userID}, cfg)
}

// DeleteUserConfig implements store.MCPConfigStore.
func (s *Stores) DeleteUserConfig(ctx context.Context, userID string) (bool, error) {
	if !s.storage.Exists(ctx, []string{"mcp", userID}) {
		return false, nil
	}
	return true, s.storage.Delete(ctx, []string{"mcp", userID})
}

// AddServer implements store.MCPConfigStore.
func (s *Stores) AddServer(ctx context.Context, userID string, server mcp.ServerConfig) error {
	cfg, err := s.GetUserConfig(ctx, userID)
	if err != nil {
		return err
	}
	cfg.AddServer(server)
	return s.SaveUserConfig(ctx, userID, cfg)
}

// RemoveServer implements store.MCPConfigStore.
func (s *Stores) RemoveServer(ctx context.Context, userID, serverName string) (bool, error) {
	cfg, err := s.GetUserConfig(ctx, userID)
	if err != nil {
		return false, err
	}
	if !cfg.RemoveServer(serverName) {
		return false, nil
	}
	return true, s.SaveUserConfig(ctx, userID, cfg)
}

// GetServer implements store.MCPConfigStore.
func (s *Stores) GetServer(ctx context.Context, userID, serverName string) (*mcp.ServerConfig, error) {
	cfg, err := s.GetUserConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	server, ok := cfg.GetServer(serverName)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &server, nil
}

// GetUser implements store.UserStore.
func (s *Stores) GetUser(ctx context.Context, userID string) (*store.User, error) {
	var user store.User
	if err := s.storage.Get(ctx, []string{"user", userID}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser implements store.UserStore.
func (s *Stores) SaveUser(ctx context.Context, user *store.User) error {
	return s.storage.Put(ctx, []string{"user", user.UserID}, user)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
