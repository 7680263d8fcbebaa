package commands

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataagent-ai/dataagent/internal/agent"
	"github.com/dataagent-ai/dataagent/internal/config"
	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/executor"
	"github.com/dataagent-ai/dataagent/internal/hitl"
	"github.com/dataagent-ai/dataagent/internal/logging"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/provider"
	"github.com/dataagent-ai/dataagent/internal/rules"
	"github.com/dataagent-ai/dataagent/internal/runtime"
	"github.com/dataagent-ai/dataagent/internal/server"
	filestore "github.com/dataagent-ai/dataagent/internal/store/file"
	"github.com/dataagent-ai/dataagent/internal/store/sqlite"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent execution server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stores, closeStores, err := openStores(ctx, cfg)
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}
		defer closeStores()

		workspaces := workspace.NewManager(cfg.WorkspaceBase, nil)
		pool := mcp.NewPool(cfg.MCPMaxPerUser, cfg.MCPMaxTotal, nil)
		defer pool.DisconnectAll()

		ruleStore := rules.NewFileStore(cfg.GlobalRulesDir, "", projectRulesDir(cfg))
		if err := ruleStore.Watch(); err != nil {
			logging.Warn().Err(err).Msg("rules watcher unavailable")
		}
		defer ruleStore.Close()

		bus := event.NewBus()
		defer bus.Close()

		factory, err := agent.NewFactory(agent.FactoryOptions{
			Backend:    provider.NewEchoBackend(),
			AgentRoot:  cfg.AgentRoot,
			ProjectDir: cfg.ProjectDir,
			Workspaces: workspaces,
			RuleStore:  ruleStore,
			MCPPool:    pool,
			MCPConfigs: stores.MCPConfigs,
			Bus:        bus,
		})
		if err != nil {
			return &exitError{code: ExitHard, err: err}
		}

		registry := hitl.NewRegistry()
		srv := server.New(cfg, stores, factory, pool, workspaces, registry, bus)

		// The connection/session runtime backs any framed transport a
		// deployment mounts (the transport itself lives outside the core).
		conns := runtime.NewManager(cfg.MaxConnections, registry)
		srv.AttachRuntime(runtime.NewChatHandler(conns,
			func(ctx context.Context, sessionID, userID string, handler hitl.Handler) (*executor.Executor, error) {
				return factory.CreateExecutor(ctx, agent.DefaultConfig(cfg.AssistantID), sessionID, userID, handler)
			},
			cfg.HITLTimeout()))

		go runSweepers(ctx, cfg, workspaces, stores)

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logging.Info().Str("addr", cfg.Host).Int("port", cfg.Port).Msg("server starting")
		if err := srv.Start(); err != nil && ctx.Err() == nil {
			return &exitError{code: ExitHard, err: err}
		}
		return nil
	},
}

// openStores selects sqlite when a database path is configured, the
// on-disk JSON fallback otherwise.
func openStores(ctx context.Context, cfg config.Config) (server.Stores, func(), error) {
	if cfg.DatabasePath != "" {
		db, err := sqlite.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return server.Stores{}, nil, err
		}
		return server.Stores{
			Sessions:   db,
			Messages:   db,
			MCPConfigs: db,
			Users:      db,
		}, func() { db.Close() }, nil
	}

	stores := filestore.NewStores(cfg.StorePath)
	return server.Stores{
		Sessions:   stores,
		Messages:   stores,
		MCPConfigs: stores,
		Users:      stores,
	}, func() {}, nil
}

func projectRulesDir(cfg config.Config) string {
	if cfg.ProjectDir == "" {
		return ""
	}
	return filepath.Join(cfg.ProjectDir, ".dataagent", "rules")
}

// runSweepers periodically removes stale workspaces and expired
// sessions.
func runSweepers(ctx context.Context, cfg config.Config, workspaces *workspace.Manager, stores server.Stores) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cleaned := workspaces.CleanupOld(cfg.WorkspaceMaxAge()); cleaned > 0 {
				logging.Info().Int("count", cleaned).Msg("swept stale workspaces")
			}
			if removed, err := stores.Sessions.CleanupExpired(ctx, cfg.SessionMaxIdle()); err != nil {
				logging.Warn().Err(err).Msg("session cleanup failed")
			} else if removed > 0 {
				logging.Info().Int("count", removed).Msg("removed expired sessions")
			}
		}
	}
}
