package agent

import (
	"fmt"
	"strings"

	"github.com/dataagent-ai/dataagent/internal/executor"
)

// MemoryMiddleware injects the assistant's persistent memory into the
// system prompt.
type MemoryMiddleware struct {
	memory *Memory
}

// NewMemoryMiddleware creates the memory middleware.
func NewMemoryMiddleware(memory *Memory) *MemoryMiddleware {
	return &MemoryMiddleware{memory: memory}
}

// Name implements executor.Middleware.
func (m *MemoryMiddleware) Name() string { return "memory" }

// BeforeAgent ensures the memory file exists.
func (m *MemoryMiddleware) BeforeAgent(*executor.AgentState) error {
	_, err := m.memory.Load()
	return err
}

// WrapModelCall appends the memory content to the system prompt.
func (m *MemoryMiddleware) WrapModelCall(req *executor.ModelRequest, next executor.Handler) error {
	content, err := m.memory.Load()
	if err != nil {
		return err
	}

	content = strings.TrimSpace(content)
	if content != "" {
		if req.SystemPrompt != "" {
			req.SystemPrompt = req.SystemPrompt + "\n\n" + content
		} else {
			req.SystemPrompt = content
		}
	}
	return next(req)
}

// SkillsMiddleware lists available skills in the system prompt so the
// agent knows what it can reach for.
type SkillsMiddleware struct {
	userSkillsDir    string
	projectSkillsDir string
}

// NewSkillsMiddleware creates the skills middleware.
func NewSkillsMiddleware(userSkillsDir, projectSkillsDir string) *SkillsMiddleware {
	return &SkillsMiddleware{
		userSkillsDir:    userSkillsDir,
		projectSkillsDir: projectSkillsDir,
	}
}

// Name implements executor.Middleware.
func (m *SkillsMiddleware) Name() string { return "skills" }

// BeforeAgent implements executor.Middleware.
func (m *SkillsMiddleware) BeforeAgent(*executor.AgentState) error { return nil }

// WrapModelCall appends the skills listing to the system prompt.
func (m *SkillsMiddleware) WrapModelCall(req *executor.ModelRequest, next executor.Handler) error {
	skills := ListSkills(m.userSkillsDir, m.projectSkillsDir)
	if len(skills) > 0 {
		var b strings.Builder
		b.WriteString("### Available Skills\n\n")
		b.WriteString("Each skill's SKILL.md contains step-by-step workflows. Read it before using the skill.\n\n")
		for _, skill := range skills {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", skill.Name, skill.Source, skill.Description)
		}

		if req.SystemPrompt != "" {
			req.SystemPrompt = req.SystemPrompt + "\n\n" + b.String()
		} else {
			req.SystemPrompt = b.String()
		}
	}
	return next(req)
}
