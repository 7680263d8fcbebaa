package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/provider"
	"github.com/dataagent-ai/dataagent/internal/rules"
	filestore "github.com/dataagent-ai/dataagent/internal/store/file"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

var (
	flagRunUser        string
	flagRunAssistant   string
	flagRunAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single agent execution and print its events",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		assistantID := flagRunAssistant
		if assistantID == "" {
			assistantID = cfg.AssistantID
		}

		workspaces := workspace.NewManager(cfg.WorkspaceBase, nil)
		pool := mcp.NewPool(cfg.MCPMaxPerUser, cfg.MCPMaxTotal, nil)
		defer pool.DisconnectAll()

		stores := filestore.NewStores(cfg.StorePath)
		ruleStore := rules.NewFileStore(cfg.GlobalRulesDir, "", projectRulesDir(cfg))

		factory, err := agent.NewFactory(agent.FactoryOptions{
			Backend:    provider.NewEchoBackend(),
			AgentRoot:  cfg.AgentRoot,
			ProjectDir: cfg.ProjectDir,
			Workspaces: workspaces,
			RuleStore:  ruleStore,
			MCPPool:    pool,
			MCPConfigs: stores,
		})
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		agentCfg := agent.DefaultConfig(assistantID)
		agentCfg.AutoApprove = flagRunAutoApprove

		var handler hitl.Handler
		if !flagRunAutoApprove {
			handler = &terminalApprover{}
		}

		sessionID := ulid.Make().String()
		exec, err := factory.CreateExecutor(cmd.Context(), agentCfg, sessionID, flagRunUser, handler)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		prompt := strings.Join(args, " ")
		return renderEvents(exec.Execute(cmd.Context(), prompt, sessionID))
	},
}

func init() {
	runCmd.Flags().StringVar(&flagRunUser, "user", "anonymous", "user id to run as")
	runCmd.Flags().StringVar(&flagRunAssistant, "assistant", "", "assistant id (defaults from config)")
	runCmd.Flags().BoolVar(&flagRunAutoApprove, "auto-approve", false, "approve all tool calls without asking")
}

// renderEvents prints the event stream as lines and maps the
// terminator to an exit code.
func renderEvents(events <-chan event.Event) error {
	for ev := range events {
		switch data := ev.Data.(type) {
		case event.TextData:
			if !data.IsFinal {
				fmt.Print(data.Content)
			} else {
				fmt.Println()
			}
		case event.ToolCallData:
			fmt.Printf("\n[tool_call] %s %v (%s)\n", data.ToolName, data.ToolArgs, data.ToolCallID)
		case event.ToolResultData:
			fmt.Printf("[tool_result] %s: %s\n", data.Status, data.Result)
		case event.FileOperationData:
			fmt.Printf("[file_operation] %s %s (%s) +%d -%d\n",
				data.Operation, data.FilePath, data.Status,
				data.Metrics.LinesAdded, data.Metrics.LinesRemoved)
		case event.TodoUpdateData:
			fmt.Printf("[todos] %d items\n", len(data.Todos))
		case event.ErrorData:
			fmt.Fprintf(os.Stderr, "error: %s\n", data.Error)
			if data.Recoverable {
				return &exitError{code: ExitPartial, err: fmt.Errorf("%s", data.Error)}
			}
			return &exitError{code: ExitHard, err: fmt.Errorf("%s", data.Error)}
		case event.DoneData:
			if data.Cancelled {
				fmt.Fprintln(os.Stderr, "cancelled")
				return &exitError{code: ExitPartial, err: fmt.Errorf("execution cancelled")}
			}
		}
	}
	return nil
}

// terminalApprover asks for tool approval on stdin.
type terminalApprover struct{}

func (a *terminalApprover) RequestApproval(ctx context.Context, req event.ActionRequest, _ string) (hitl.Decision, error) {
	fmt.Printf("\nApprove tool %q with args %v? [y/N/a(ll)] ", req.Name, req.Args)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return hitl.Reject("Request cancelled"), nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return hitl.Approve(), nil
	case "a", "all":
		return hitl.Decision{Type: hitl.DecisionAutoApproveAll}, nil
	default:
		return hitl.Reject("Rejected by user"), nil
	}
}
