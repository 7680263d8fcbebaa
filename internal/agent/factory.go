package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/rules"
	"github.com/dataagent-ai/dataagent/internal/store"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

// Config selects what goes into an assembled agent.
type Config struct {
	AssistantID string
	// AutoApprove skips HITL entirely (no handler attached).
	AutoApprove bool
	EnableMemory bool
	EnableSkills bool
	// ExtraTools are appended to the session tool set (typically the
	// user's MCP tools).
	ExtraTools []mcp.ToolDescriptor
	// MaxDiffLines caps file_operation diffs.
	MaxDiffLines int
	DebugRules   bool
}

// DefaultConfig returns an agent config with memory and skills on.
func DefaultConfig(assistantID string) Config {
	return Config{
		AssistantID:  assistantID,
		EnableMemory: true,
		EnableSkills: true,
	}
}

// Factory builds executors: backend + tools + middleware per session.
// It is a process-scoped component handed to the runtime by injection.
type Factory struct {
	backend    executor.Backend
	agentRoot  string
	projectDir string
	workspaces *workspace.Manager
	ruleStore  rules.Store
	mcpPool    *mcp.Pool
	mcpConfigs store.MCPConfigStore
	bus        *event.Bus
}

// FactoryOptions wires the factory's collaborators. Backend and
// Workspaces are required; the rest are optional.
type FactoryOptions struct {
	Backend    executor.Backend
	AgentRoot  string
	ProjectDir string
	Workspaces *workspace.Manager
	RuleStore  rules.Store
	MCPPool    *mcp.Pool
	MCPConfigs store.MCPConfigStore
	Bus        *event.Bus
}

// NewFactory creates an agent factory.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Workspaces == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	return &Factory{
		backend:    opts.Backend,
		agentRoot:  opts.AgentRoot,
		projectDir: opts.ProjectDir,
		workspaces: opts.Workspaces,
		ruleStore:  opts.RuleStore,
		mcpPool:    opts.MCPPool,
		mcpConfigs: opts.MCPConfigs,
		bus:        opts.Bus,
	}, nil
}

// CreateExecutor assembles an executor for one session. The user's MCP
// servers are connected on demand and their tools joined into the
// session tool set. handler may be nil (auto-approve).
func (f *Factory) CreateExecutor(ctx context.Context, cfg Config, sessionID, userID string, handler hitl.Handler) (*executor.Executor, error) {
	sandbox, err := workspace.NewSandbox(f.workspaces, userID, true)
	if err != nil {
		return nil, fmt.Errorf("create workspace sandbox: %w", err)
	}

	tools := append([]mcp.ToolDescriptor(nil), cfg.ExtraTools...)
	if f.mcpPool != nil {
		mcpCfg := mcp.Config{Servers: map[string]mcp.ServerConfig{}}

		// The agent directory's mcp.json is the on-disk fallback; the
		// user's stored configuration layers over it.
		if f.agentRoot != "" {
			if fileCfg, err := mcp.LoadConfig(filepath.Join(f.agentRoot, cfg.AssistantID, "mcp.json")); err == nil {
				for _, server := range fileCfg.Servers {
					mcpCfg.AddServer(server)
				}
			}
		}
		if f.mcpConfigs != nil {
			if userCfg, err := f.mcpConfigs.GetUserConfig(ctx, userID); err == nil {
				for _, server := range userCfg.Servers {
					mcpCfg.AddServer(server)
				}
			}
		}

		if len(mcpCfg.Servers) > 0 {
			f.mcpPool.Connect(ctx, userID, mcpCfg)
			tools = append(tools, f.mcpPool.GetTools(userID)...)
		}
	}

	var chain executor.Chain
	if cfg.EnableMemory && f.agentRoot != "" {
		chain = append(chain, NewMemoryMiddleware(NewMemory(f.agentRoot, cfg.AssistantID)))
	}
	if cfg.EnableSkills && f.agentRoot != "" {
		userSkills := filepath.Join(f.agentRoot, cfg.AssistantID, "skills")
		var projectSkills string
		if f.projectDir != "" {
			projectSkills = filepath.Join(f.projectDir, ".dataagent", "skills")
		}
		chain = append(chain, NewSkillsMiddleware(userSkills, projectSkills))
	}
	if f.ruleStore != nil {
		var callback func(event.Event)
		if f.bus != nil {
			bus := f.bus
			callback = func(e event.Event) { bus.Publish(e) }
		}
		chain = append(chain, rules.NewMiddleware(f.ruleStore, rules.MiddlewareOptions{
			DebugMode: cfg.DebugRules,
			Callback:  callback,
		}))
	}

	if cfg.AutoApprove {
		handler = nil
	}

	return executor.New(f.backend, executor.Options{
		AssistantID:  cfg.AssistantID,
		SystemPrompt: SystemPrompt(cfg.AssistantID, f.agentRoot, sandbox.Root()),
		Handler:      handler,
		Middleware:   chain,
		Tracker:      executor.NewFileTracker(sandbox, cfg.MaxDiffLines),
		Tools:        tools,
	}), nil
}

// SystemPrompt returns the base system prompt for an assistant.
func SystemPrompt(assistantID, agentRoot, workingDir string) string {
	agentDir := filepath.Join(agentRoot, assistantID)

	return fmt.Sprintf(`<env>
Working directory: %s
</env>

### Current Working Directory

The filesystem backend is operating in: %s

All file paths resolve inside this directory. Paths that escape it are
rejected.

### Skills Directory

Your skills are stored at: %s/skills/
Skills may contain scripts or supporting files. Read a skill's SKILL.md
before using it.

### Human-in-the-Loop Tool Approval

Some tool calls require user approval before execution. When a tool
call is rejected:
1. Accept the decision immediately - do NOT retry the same command
2. Explain that you understand the rejection
3. Suggest an alternative approach or ask for clarification

### Todo List Management

Keep todo lists minimal (3-6 items). Only track complex multi-step
tasks; do simple things directly. Update status promptly as items
complete.`, workingDir, workingDir, agentDir)
}
