package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	closed bool
	result string
}

func (s *fakeSession) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	if s.result != "" {
		return s.result, nil
	}
	return "ran " + name, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeDialer connects every server successfully with one tool per
// server, except names listed in fail.
func fakeDialer(fail map[string]error) (Dialer, map[string]*fakeSession) {
	sessions := make(map[string]*fakeSession)
	dial := func(_ context.Context, cfg ServerConfig) (Session, []ToolDescriptor, error) {
		if err, ok := fail[cfg.Name]; ok {
			return nil, nil, err
		}
		session := &fakeSession{}
		sessions[cfg.Name] = session
		return session, []ToolDescriptor{
			{Name: "list", Description: "list things"},
		}, nil
	}
	return dial, sessions
}

func stdioConfig(names ...string) Config {
	cfg := Config{Servers: map[string]ServerConfig{}}
	for _, name := range names {
		cfg.AddServer(ServerConfig{Name: name, Command: "/bin/" + name})
	}
	return cfg
}

func TestConnectAndGetTools(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(10, 100, dial)

	conns := pool.Connect(context.Background(), "alice", stdioConfig("files", "db"))
	require.Len(t, conns, 2)
	assert.True(t, conns["files"].Connected)

	tools := pool.GetTools("alice")
	require.Len(t, tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.ElementsMatch(t, []string{"files_list", "db_list"}, names)
	assert.Equal(t, 2, pool.TotalConnections())
}

func TestConnectFailureIsNonFatal(t *testing.T) {
	dial, _ := fakeDialer(map[string]error{"broken": errors.New("no such command")})
	pool := NewPool(10, 100, dial)

	conns := pool.Connect(context.Background(), "alice", stdioConfig("healthy", "broken"))
	require.Len(t, conns, 2)

	assert.True(t, conns["healthy"].Connected)
	assert.False(t, conns["broken"].Connected)
	assert.Contains(t, conns["broken"].Error, "no such command")

	// Only the healthy server's tools are visible.
	tools := pool.GetTools("alice")
	require.Len(t, tools, 1)
	assert.Equal(t, "healthy_list", tools[0].Name)

	status := pool.ConnectionStatus("alice")
	assert.False(t, status["broken"].Connected)
	assert.NotEmpty(t, status["broken"].Error)
	assert.Equal(t, 1, pool.TotalConnections(), "failed connections do not count")
}

func TestPerUserCap(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(2, 100, dial)

	conns := pool.Connect(context.Background(), "alice", stdioConfig("a", "b", "c"))
	assert.Len(t, conns, 2)
	assert.Equal(t, 2, pool.TotalConnections())
}

func TestGlobalCap(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(10, 3, dial)

	pool.Connect(context.Background(), "alice", stdioConfig("a", "b"))
	pool.Connect(context.Background(), "bob", stdioConfig("c", "d"))

	assert.Equal(t, 3, pool.TotalConnections())
	assert.Len(t, pool.GetTools("bob"), 1)
}

func TestDisconnectOneAndAll(t *testing.T) {
	dial, sessions := fakeDialer(nil)
	pool := NewPool(10, 100, dial)

	pool.Connect(context.Background(), "alice", stdioConfig("a", "b"))

	pool.Disconnect("alice", "a")
	assert.True(t, sessions["a"].closed)
	assert.False(t, sessions["b"].closed)
	assert.Equal(t, 1, pool.TotalConnections())

	pool.Disconnect("alice", "")
	assert.True(t, sessions["b"].closed)
	assert.Equal(t, 0, pool.TotalConnections())
	assert.Equal(t, 0, pool.UserCount(), "empty user entry is removed")

	// Safe when nothing is mapped.
	pool.Disconnect("alice", "")
	pool.Disconnect("nobody", "x")
}

func TestUserIsolation(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(10, 100, dial)

	pool.Connect(context.Background(), "alice", stdioConfig("shared"))
	pool.Connect(context.Background(), "bob", stdioConfig("shared"))

	aliceTools := pool.GetTools("alice")
	bobTools := pool.GetTools("bob")
	require.Len(t, aliceTools, 1)
	require.Len(t, bobTools, 1)

	// Disconnecting alice never affects bob.
	pool.Disconnect("alice", "")
	assert.Empty(t, pool.GetTools("alice"))
	assert.Len(t, pool.GetTools("bob"), 1)
}

func TestHealthCheck(t *testing.T) {
	dial, _ := fakeDialer(map[string]error{"down": errors.New("boom")})
	pool := NewPool(10, 100, dial)

	pool.Connect(context.Background(), "alice", stdioConfig("up", "down"))

	health := pool.HealthCheck("alice")
	assert.True(t, health["up"])
	assert.False(t, health["down"])
}

func TestCallToolRouting(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(10, 100, dial)

	pool.Connect(context.Background(), "alice", stdioConfig("files"))

	out, err := pool.CallTool(context.Background(), "alice", "files_list", nil)
	require.NoError(t, err)
	assert.Equal(t, "ran list", out)

	_, err = pool.CallTool(context.Background(), "alice", "unknown_tool", nil)
	require.Error(t, err)

	// Another user cannot reach alice's server.
	_, err = pool.CallTool(context.Background(), "bob", "files_list", nil)
	require.Error(t, err)
}

func TestReconnectSkipsConnected(t *testing.T) {
	calls := 0
	dial := func(_ context.Context, cfg ServerConfig) (Session, []ToolDescriptor, error) {
		calls++
		return &fakeSession{}, nil, nil
	}
	pool := NewPool(10, 100, dial)

	cfg := stdioConfig("a")
	pool.Connect(context.Background(), "alice", cfg)
	pool.Connect(context.Background(), "alice", cfg)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, pool.TotalConnections())
}

func TestDisabledServerSkipped(t *testing.T) {
	dial, _ := fakeDialer(nil)
	pool := NewPool(10, 100, dial)

	cfg := stdioConfig("on")
	cfg.AddServer(ServerConfig{Name: "off", Command: "/bin/off", Disabled: true})

	conns := pool.Connect(context.Background(), "alice", cfg)
	require.Len(t, conns, 1)
	_, ok := conns["off"]
	assert.False(t, ok)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := Config{Servers: map[string]ServerConfig{}}
	cfg.AddServer(ServerConfig{
		Name:        "files",
		Command:     "/usr/bin/files-mcp",
		Args:        []string{"--root", "/data"},
		Env:         map[string]string{"TOKEN": "x"},
		AutoApprove: []string{"list"},
	})
	cfg.AddServer(ServerConfig{
		Name:      "remote",
		URL:       "https://mcp.example.com/sse",
		Transport: TransportSSE,
		Headers:   map[string]string{"Authorization": "Bearer t"},
		Disabled:  true,
	})

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	// The outer key is bit-exact.
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &envelope))
	_, ok := envelope["mcpServers"]
	require.True(t, ok)

	var loaded Config
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Len(t, loaded.Servers, 2)
	assert.Equal(t, "files", loaded.Servers["files"].Name)
	assert.Equal(t, []string{"--root", "/data"}, loaded.Servers["files"].Args)
	assert.True(t, loaded.Servers["remote"].Disabled)
}

func TestLoadConfigJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	content := `{
  // local tool server
  "mcpServers": {
    "files": {"command": "/usr/bin/files-mcp", "args": ["--root", "/data"],},
  },
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "/usr/bin/files-mcp", cfg.Servers["files"].Command)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestServerConfigValidate(t *testing.T) {
	assert.Error(t, ServerConfig{Name: "x"}.Validate())
	assert.Error(t, ServerConfig{Name: "x", Command: "c", URL: "u"}.Validate())
	assert.NoError(t, ServerConfig{Name: "x", Command: "c"}.Validate())
	assert.NoError(t, ServerConfig{Name: "x", URL: "u", Transport: TransportStreamableHTTP}.Validate())
	assert.Error(t, ServerConfig{Name: "x", URL: "u", Transport: "carrier-pigeon"}.Validate())
}
