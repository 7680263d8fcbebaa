// Package agent assembles executable agents: persistent memory, skill
// discovery, the middleware chain, and the factory that binds them to a
// backend and tool set per session.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// MemoryFileName is the persistent memory file inside an agent's
// directory.
const MemoryFileName = "agent.md"

// DefaultInstructions returns the default persistent memory text. The
// memory file is created lazily from it on first agent use, never at
// startup.
func DefaultInstructions() string {
	return `# Agent Instructions

You are a capable data agent. You help users inspect, transform, and
explain their data and code.

## Working Style

- Prefer small, verifiable steps over large speculative changes.
- When a tool call is rejected, accept the decision and propose an
  alternative instead of retrying.
- Keep answers grounded in what you actually observed through tools.

## Memory

This file persists across sessions. Record durable preferences and
project facts here; remove anything that stops being true.
`
}

// Memory is one assistant's persistent memory file under the agent
// root: <agentRoot>/<assistantID>/agent.md.
type Memory struct {
	agentRoot   string
	assistantID string
}

// NewMemory creates a memory handle for an assistant.
func NewMemory(agentRoot, assistantID string) *Memory {
	return &Memory{agentRoot: agentRoot, assistantID: assistantID}
}

// Dir returns the assistant's directory.
func (m *Memory) Dir() string {
	return filepath.Join(m.agentRoot, m.assistantID)
}

// Path returns the memory file path.
func (m *Memory) Path() string {
	return filepath.Join(m.Dir(), MemoryFileName)
}

// Load returns the memory content, creating the file with default
// instructions on first use.
func (m *Memory) Load() (string, error) {
	data, err := os.ReadFile(m.Path())
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(m.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create agent directory: %w", err)
	}
	content := DefaultInstructions()
	if err := os.WriteFile(m.Path(), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write default memory: %w", err)
	}
	logging.Info().Str("assistant", m.assistantID).Str("path", m.Path()).
		Msg("created default agent memory")
	return content, nil
}

// Save replaces the memory content.
func (m *Memory) Save(content string) error {
	if err := os.MkdirAll(m.Dir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.Path(), []byte(content), 0o644)
}

// Reset restores the memory to the default instructions, or to a copy
// of another assistant's memory when fromAssistant is non-empty.
func (m *Memory) Reset(fromAssistant string) error {
	content := DefaultInstructions()

	if fromAssistant != "" {
		source := NewMemory(m.agentRoot, fromAssistant)
		data, err := os.ReadFile(source.Path())
		if err != nil {
			return fmt.Errorf("source agent %q does not exist or has no %s", fromAssistant, MemoryFileName)
		}
		content = string(data)
	}

	if err := m.Save(content); err != nil {
		return err
	}
	logging.Info().Str("assistant", m.assistantID).Str("from", fromAssistant).
		Msg("reset agent memory")
	return nil
}
