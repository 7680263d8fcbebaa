package file

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/store"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	return NewStores(t.TempDir())
}

func TestSessionLifecycle(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	session := &store.Session{
		SessionID:   ulid.Make().String(),
		UserID:      "alice",
		AssistantID: "default",
		CreatedAt:   time.Now(),
		LastActive:  time.Now(),
	}
	require.NoError(t, stores.CreateSession(ctx, session))

	loaded, err := stores.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.UserID)

	require.NoError(t, stores.ArchiveSession(ctx, session.SessionID))
	loaded, err = stores.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.True(t, loaded.Archived)

	require.NoError(t, stores.DeleteSession(ctx, session.SessionID))
	_, err = stores.GetSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessageSequenceAndPagination(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	sessionID := ulid.Make().String()
	for range 5 {
		msg := &store.Message{
			MessageID: ulid.Make().String(),
			SessionID: sessionID,
			Role:      "user",
			Content:   "m",
		}
		require.NoError(t, stores.AppendMessage(ctx, msg))
	}

	all, err := stores.ListMessages(ctx, sessionID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, msg := range all {
		assert.Equal(t, int64(i+1), msg.Sequence)
	}

	page, err := stores.ListMessages(ctx, sessionID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Sequence)
	assert.Equal(t, int64(4), page[1].Sequence)
}

func TestDeleteSessionCascadesToMessages(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	session := &store.Session{SessionID: ulid.Make().String(), UserID: "alice"}
	require.NoError(t, stores.CreateSession(ctx, session))
	require.NoError(t, stores.AppendMessage(ctx, &store.Message{
		MessageID: ulid.Make().String(), SessionID: session.SessionID, Role: "user",
	}))

	require.NoError(t, stores.DeleteSession(ctx, session.SessionID))

	messages, err := stores.ListMessages(ctx, session.SessionID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCleanupExpiredSessions(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	stale := &store.Session{
		SessionID:  ulid.Make().String(),
		UserID:     "alice",
		LastActive: time.Now().Add(-48 * time.Hour),
	}
	fresh := &store.Session{
		SessionID:  ulid.Make().String(),
		UserID:     "alice",
		LastActive: time.Now(),
	}
	require.NoError(t, stores.CreateSession(ctx, stale))
	require.NoError(t, stores.CreateSession(ctx, fresh))

	removed, err := stores.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = stores.GetSession(ctx, stale.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMCPConfigPersistence(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	cfg, err := stores.GetUserConfig(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)

	require.NoError(t, stores.AddServer(ctx, "alice", mcp.ServerConfig{
		Name:    "files",
		Command: "/usr/bin/files-mcp",
	}))

	cfg, err = stores.GetUserConfig(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "files", cfg.Servers["files"].Name)

	server, err := stores.GetServer(ctx, "alice", "files")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/files-mcp", server.Command)

	// Isolation across users.
	bobCfg, err := stores.GetUserConfig(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobCfg.Servers)

	removed, err := stores.RemoveServer(ctx, "alice", "files")
	require.NoError(t, err)
	assert.True(t, removed)

	deleted, err := stores.DeleteUserConfig(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = stores.DeleteUserConfig(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserPersistence(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	_, err := stores.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, stores.SaveUser(ctx, &store.User{
		UserID:      "alice",
		DisplayName: "Alice",
		Status:      "active",
	}))

	user, err := stores.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
}
