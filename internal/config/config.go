// Package config loads server settings from defaults, an optional
// JSONC settings file, and environment variables, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Config is the server configuration.
type Config struct {
	// Host and Port bind the REST control plane.
	Host string `json:"host"`
	Port int    `json:"port"`

	// MaxConnections bounds the live client connection pool.
	MaxConnections int `json:"max_connections"`

	// HITLTimeoutSeconds bounds each approval wait.
	HITLTimeoutSeconds int `json:"hitl_timeout_seconds"`

	// WorkspaceBase is the root under which per-user workspaces live.
	WorkspaceBase string `json:"workspace_base"`
	// WorkspaceMaxAgeDays drives the age-based workspace sweeper.
	WorkspaceMaxAgeDays int `json:"workspace_max_age_days"`

	// AgentRoot holds per-assistant directories (agent.md, skills/).
	AgentRoot string `json:"agent_root"`
	// ProjectDir anchors project-scope rules and skills.
	ProjectDir string `json:"project_dir"`

	// GlobalRulesDir and UserRulesDir configure the rule store scopes.
	GlobalRulesDir string `json:"global_rules_dir"`
	UserRulesDir   string `json:"user_rules_dir"`

	// DatabasePath is the SQLite file; empty selects the file store.
	DatabasePath string `json:"database_path"`
	// StorePath is the file-store root used when DatabasePath is empty.
	StorePath string `json:"store_path"`

	// MCPMaxPerUser and MCPMaxTotal cap the MCP connection pool.
	MCPMaxPerUser int `json:"mcp_max_per_user"`
	MCPMaxTotal   int `json:"mcp_max_total"`

	// SessionMaxIdleHours drives session expiry cleanup.
	SessionMaxIdleHours int `json:"session_max_idle_hours"`

	// AssistantID is the default assistant persona.
	AssistantID string `json:"assistant_id"`

	// LogLevel is the minimum log level (DEBUG, INFO, WARN, ERROR).
	LogLevel string `json:"log_level"`
}

// Default returns the built-in defaults, anchored at ~/.dataagent.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".dataagent")

	return Config{
		Host:                "127.0.0.1",
		Port:                8080,
		MaxConnections:      100,
		HITLTimeoutSeconds:  300,
		WorkspaceBase:       filepath.Join(base, "workspaces"),
		WorkspaceMaxAgeDays: 30,
		AgentRoot:           filepath.Join(base, "agents"),
		GlobalRulesDir:      filepath.Join(base, "rules"),
		StorePath:           filepath.Join(base, "store"),
		MCPMaxPerUser:       10,
		MCPMaxTotal:         100,
		SessionMaxIdleHours: 24,
		AssistantID:         "default",
		LogLevel:            "INFO",
	}
}

// Load builds the config: defaults, then the settings file (JSONC
// tolerated, missing file ignored), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv maps DATAAGENT_* environment variables onto the config.
func applyEnv(cfg *Config) {
	setString(&cfg.Host, "DATAAGENT_HOST")
	setInt(&cfg.Port, "DATAAGENT_PORT")
	setInt(&cfg.MaxConnections, "DATAAGENT_MAX_CONNECTIONS")
	setInt(&cfg.HITLTimeoutSeconds, "DATAAGENT_HITL_TIMEOUT")
	setString(&cfg.WorkspaceBase, "DATAAGENT_WORKSPACE_BASE")
	setString(&cfg.AgentRoot, "DATAAGENT_AGENT_ROOT")
	setString(&cfg.DatabasePath, "DATAAGENT_DATABASE_PATH")
	setString(&cfg.StorePath, "DATAAGENT_STORE_PATH")
	setInt(&cfg.MCPMaxPerUser, "DATAAGENT_MCP_MAX_PER_USER")
	setInt(&cfg.MCPMaxTotal, "DATAAGENT_MCP_MAX_TOTAL")
	setString(&cfg.AssistantID, "DATAAGENT_ASSISTANT_ID")
	setString(&cfg.LogLevel, "DATAAGENT_LOG_LEVEL")
}

// HITLTimeout returns the approval timeout as a duration.
func (c Config) HITLTimeout() time.Duration {
	return time.Duration(c.HITLTimeoutSeconds) * time.Second
}

// WorkspaceMaxAge returns the workspace sweeper threshold.
func (c Config) WorkspaceMaxAge() time.Duration {
	return time.Duration(c.WorkspaceMaxAgeDays) * 24 * time.Hour
}

// SessionMaxIdle returns the session expiry threshold.
func (c Config) SessionMaxIdle() time.Duration {
	return time.Duration(c.SessionMaxIdleHours) * time.Hour
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
