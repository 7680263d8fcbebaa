// Package commands implements the dataagent CLI.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/logging"
	"github.com/dataagent-ai/dataagent/internal/version"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitPartial = 1
	ExitHard    = 2
)

var (
	flagConfig   string
	flagEnvFile  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "dataagent",
	Short:   "Multi-tenant AI agent execution server",
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagEnvFile != "" {
			_ = godotenv.Load(flagEnvFile)
		} else {
			_ = godotenv.Load()
		}

		level := flagLogLevel
		if level == "" {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			level = cfg.LogLevel
		}
		logging.Init(logging.Config{Level: logging.ParseLevel(level)})
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to settings file (JSONC)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "path to .env file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resetAgentCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("command failed")
		if code, ok := exitCodeFromError(err); ok {
			return code
		}
		return ExitHard
	}
	return ExitOK
}

// exitError carries a specific exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFromError(err error) (int, bool) {
	if e, ok := err.(*exitError); ok {
		return e.code, true
	}
	return 0, false
}
