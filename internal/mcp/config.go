// Package mcp provides MCP tool-server configuration and per-user
// connection pools built on the official MCP Go SDK.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// Transport is the MCP transport kind.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ServerConfig describes one MCP server, identified by (user, name).
// A server is either command-based (stdio) or URL-based.
type ServerConfig struct {
	Name        string            `json:"-"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Transport   Transport         `json:"transport,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
	AutoApprove []string          `json:"autoApprove,omitempty"`
}

// IsURL reports whether the server is URL-based.
func (c ServerConfig) IsURL() bool { return c.URL != "" }

// EffectiveTransport returns the transport, defaulting stdio for
// command servers and sse for URL servers.
func (c ServerConfig) EffectiveTransport() Transport {
	if c.Transport != "" {
		return c.Transport
	}
	if c.IsURL() {
		return TransportSSE
	}
	return TransportStdio
}

// Validate checks that exactly one connection form is present.
func (c ServerConfig) Validate() error {
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("server %q: either command or url is required", c.Name)
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("server %q: command and url are mutually exclusive", c.Name)
	}
	if c.IsURL() {
		switch c.EffectiveTransport() {
		case TransportSSE, TransportStreamableHTTP:
		default:
			return fmt.Errorf("server %q: invalid transport %q for url server", c.Name, c.Transport)
		}
	}
	return nil
}

// Config is a user's MCP server set. Its persisted representation is
// the {"mcpServers": {...}} record.
type Config struct {
	Servers map[string]ServerConfig
}

// configWire is the bit-exact persisted shape.
type configWire struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// MarshalJSON writes the mcpServers envelope.
func (c Config) MarshalJSON() ([]byte, error) {
	servers := c.Servers
	if servers == nil {
		servers = map[string]ServerConfig{}
	}
	return json.Marshal(configWire{MCPServers: servers})
}

// UnmarshalJSON reads the mcpServers envelope, backfilling names.
func (c *Config) UnmarshalJSON(data []byte) error {
	var wire configWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Servers = make(map[string]ServerConfig, len(wire.MCPServers))
	for name, server := range wire.MCPServers {
		server.Name = name
		c.Servers[name] = server
	}
	return nil
}

// AddServer inserts or replaces a server.
func (c *Config) AddServer(server ServerConfig) {
	if c.Servers == nil {
		c.Servers = make(map[string]ServerConfig)
	}
	c.Servers[server.Name] = server
}

// RemoveServer deletes a server. Returns true if it existed.
func (c *Config) RemoveServer(name string) bool {
	if _, ok := c.Servers[name]; !ok {
		return false
	}
	delete(c.Servers, name)
	return true
}

// GetServer looks a server up by name.
func (c *Config) GetServer(name string) (ServerConfig, bool) {
	server, ok := c.Servers[name]
	return server, ok
}

// EnabledServers returns non-disabled servers in name order.
func (c *Config) EnabledServers() []ServerConfig {
	var out []ServerConfig
	for _, server := range c.Servers {
		if !server.Disabled {
			out = append(out, server)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadConfig reads an mcp.json file. JSONC (comments, trailing commas)
// is tolerated. A missing file yields an empty config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Servers: map[string]ServerConfig{}}, nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes an mcp.json file.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
