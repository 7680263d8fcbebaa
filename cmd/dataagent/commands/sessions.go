package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/store"
	filestore "github.com/dataagent-ai/dataagent/internal/store/file"
	"github.com/dataagent-ai/dataagent/internal/store/sqlite"
)

var flagSessionsUser string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		var sessions []*store.Session
		if cfg.DatabasePath != "" {
			db, err := sqlite.Open(cmd.Context(), cfg.DatabasePath)
			if err != nil {
				return &exitError{code: ExitHard, err: err}
			}
			defer db.Close()
			sessions, err = db.ListSessions(cmd.Context(), flagSessionsUser, 0, 0)
			if err != nil {
				return &exitError{code: ExitHard, err: err}
			}
		} else {
			stores := filestore.NewStores(cfg.StorePath)
			sessions, err = stores.ListSessions(context.Background(), flagSessionsUser, 0, 0)
			if err != nil {
				return &exitError{code: ExitHard, err: err}
			}
		}

		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, session := range sessions {
			fmt.Printf("%s  user=%s assistant=%s archived=%v last_active=%s\n",
				session.SessionID, session.UserID, session.AssistantID,
				session.Archived, session.LastActive.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&flagSessionsUser, "user", "", "filter by user id")
	sessionsCmd.AddCommand(sessionsListCmd)
}
