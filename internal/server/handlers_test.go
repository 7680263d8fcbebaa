package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	filestore "github.com/dataagent-ai/dataagent/internal/store/file"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

// helloBackend streams "Hello" and finishes.
type helloBackend struct{}

type helloStream struct{ pos int }

func (s *helloStream) Recv() (*executor.Chunk, error) {
	defer func() { s.pos++ }()
	switch s.pos {
	case 0:
		return &executor.Chunk{
			Mode:    executor.ModeMessages,
			Message: &schema.Message{Role: schema.Assistant, Content: "Hello"},
		}, nil
	case 1:
		return &executor.Chunk{
			Mode:    executor.ModeMessages,
			Message: &schema.Message{Role: schema.Assistant},
			Last:    true,
		}, nil
	default:
		return nil, io.EOF
	}
}

func (s *helloStream) Close() {}

func (helloBackend) Stream(context.Context, executor.StreamInput) (executor.ChunkStream, error) {
	return &helloStream{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.GlobalRulesDir = base + "/rules-global"
	cfg.UserRulesDir = base + "/rules-users"
	cfg.ProjectDir = ""

	stores := filestore.NewStores(base + "/store")
	workspaces := workspace.NewManager(base+"/workspaces", nil)

	factory, err := agent.NewFactory(agent.FactoryOptions{
		Backend:    helloBackend{},
		AgentRoot:  base + "/agents",
		Workspaces: workspaces,
	})
	require.NoError(t, err)

	pool := mcp.NewPool(10, 100, func(context.Context, mcp.ServerConfig) (mcp.Session, []mcp.ToolDescriptor, error) {
		return nil, nil, io.ErrUnexpectedEOF
	})

	return New(cfg, Stores{
		Sessions:   stores,
		Messages:   stores,
		MCPConfigs: stores,
		Users:      stores,
	}, factory, pool, workspaces, hitl.NewRegistry(), event.NewBus())
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func asAlice() map[string]string {
	return map[string]string{"X-User-ID": "alice"}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
	_, hasUptime := body["uptime"].(float64)
	assert.True(t, hasUptime)
}

func TestChatCollectsEvents(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/chat", map[string]any{
		"message":      "hi",
		"user_context": map[string]any{"user_id": "alice"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SessionID string           `json:"session_id"`
		Events    []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.SessionID)
	require.Len(t, body.Events, 3)

	assert.Equal(t, "text", body.Events[0]["event_type"])
	assert.Equal(t, "text", body.Events[1]["event_type"])
	assert.Equal(t, "done", body.Events[2]["event_type"])

	// The turn persisted user and assistant messages.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+body.SessionID+"/messages", nil, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)

	var history struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "user", history.Messages[0]["role"])
	assert.Equal(t, "assistant", history.Messages[1]["role"])
	assert.Equal(t, "Hello", history.Messages[1]["content"])
}

func TestChatEmptyMessage(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/chat", map[string]any{"message": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionAccessControl(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/chat", map[string]any{
		"message":      "hi",
		"user_context": map[string]any{"user_id": "alice"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// The owner can read it.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+body.SessionID, nil, asAlice())
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another user cannot.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+body.SessionID, nil,
		map[string]string{"X-User-ID": "mallory"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An admin can.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+body.SessionID, nil,
		map[string]string{"X-User-ID": "root", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deletion cascades.
	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/sessions/"+body.SessionID, nil, asAlice())
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+body.SessionID, nil, asAlice())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMCPServerCRUDAndAuthz(t *testing.T) {
	srv := newTestServer(t)

	server := map[string]any{
		"name":    "files",
		"command": "/usr/bin/files-mcp",
		"args":    []string{"--root", "/data"},
	}

	// Another user is rejected with 403.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/users/alice/mcp/servers", server,
		map[string]string{"X-User-ID": "mallory"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The owner can write.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/users/alice/mcp/servers", server, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)

	// And read back the mcpServers envelope.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/alice/mcp/servers", nil, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	_, ok := cfg["mcpServers"]["files"]
	assert.True(t, ok)

	// Admin may operate on any user.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/alice/mcp/servers/files", nil,
		map[string]string{"X-User-ID": "root", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/users/alice/mcp/servers/files", nil, asAlice())
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/alice/mcp/servers/files", nil, asAlice())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRulesEndpoints(t *testing.T) {
	srv := newTestServer(t)

	content := "---\nname: style\ndescription: Style guide\npriority: 70\n---\nUse gofmt."

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/users/alice/rules", map[string]any{
		"content": content,
	}, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/alice/rules", nil, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Rules []map[string]any `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Rules, 1)
	assert.Equal(t, "style", listing.Rules[0]["name"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/alice/rules/style", nil, asAlice())
	assert.Equal(t, http.StatusOK, rec.Code)

	// Validation endpoint.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/users/alice/rules/validate", map[string]any{
		"content": "no frontmatter",
	}, asAlice())
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.False(t, verdict.Valid)
	assert.NotEmpty(t, verdict.Errors)

	// Per-user isolation: bob sees no rules.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/bob/rules", nil,
		map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Rules)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/users/alice/rules/style", nil, asAlice())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveHITLNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/hitl/ii-1",
		hitl.Approve(), asAlice())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveHITLInvalidDecision(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/hitl/ii-1",
		map[string]any{"type": "shrug"}, asAlice())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
