package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/config"
)

var flagResetFrom string

var resetAgentCmd = &cobra.Command{
	Use:   "reset-agent <assistant-id>",
	Short: "Reset an agent's persistent memory",
	Long: `Reset an agent's persistent memory (agent.md) to the default
instructions, or to a copy of another agent's memory with --from.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		memory := agent.NewMemory(cfg.AgentRoot, args[0])
		if err := memory.Reset(flagResetFrom); err != nil {
			return &exitError{code: ExitPartial, err: err}
		}

		fmt.Printf("reset %s\n", memory.Path())
		return nil
	},
}

func init() {
	resetAgentCmd.Flags().StringVar(&flagResetFrom, "from", "", "copy memory from another assistant id")
}
