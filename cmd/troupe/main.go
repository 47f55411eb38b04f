package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/troupe-sim/troupe/internal/config"
	"github.com/troupe-sim/troupe/internal/control"
	"github.com/troupe-sim/troupe/internal/engine"
	"github.com/troupe-sim/troupe/internal/logging"
	"github.com/troupe-sim/troupe/internal/ratelimit"
	"github.com/troupe-sim/troupe/internal/round"
	"github.com/troupe-sim/troupe/internal/store"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "troupe",
		Short: "Troupe - persona simulation orchestrator",
		Long: `troupe runs concurrent persona-simulation sessions against a
language-model completion service.

Sessions are isolated, completions are cached per session, and state can
be checkpointed and restored mid-run. Results are extracted into
structured records with population statistics.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: ~/.troupe/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSessionsCmd(),
		newCheckpointsCmd(),
		newMCPServerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("troupe version %s\n", version)
			}
		},
	}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.TroupeConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.TroupeConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildController wires a controller from config: store, completer,
// engine, and scheduling policy. The caller must call the returned
// cleanup function. Without a configured provider the mock completer is
// used, which keeps dry runs and scenario debugging free.
func buildController(cfg *config.TroupeConfig) (*control.Controller, func(), error) {
	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return nil, nil, err
	}

	log := logging.NewLogger(cfg.Logging.Level, os.Stderr)
	trace := logging.NewTraceLogger(cfg.Store.Dir, cfg.Logging.Level)

	var completer engine.Completer
	if cfg.Engine.Provider == "" {
		completer = engine.NewMockCompleter()
	} else {
		completer, err = engine.NewCompleter(engine.ClientConfig{
			Provider:    cfg.Engine.Provider,
			APIKey:      cfg.Engine.APIKey,
			BaseURL:     cfg.Engine.BaseURL,
			Model:       cfg.Engine.Model,
			Temperature: cfg.Engine.Temperature,
			MaxTokens:   cfg.Engine.MaxTokens,
			Timeout:     cfg.Engine.Timeout,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
	}

	opts := []engine.Option{engine.WithCache(st), engine.WithLogger(log)}
	if cfg.Engine.RequestsPerMinute > 0 {
		opts = append(opts, engine.WithLimiter(
			ratelimit.NewLimiter(cfg.Engine.RequestsPerMinute/60.0, cfg.Orchestrator.MaxConcurrency)))
	}

	eng := engine.NewLLMEngine(completer, cfg.Engine.Provider, engine.Params{
		Model:       cfg.Engine.Model,
		Temperature: cfg.Engine.Temperature,
		MaxTokens:   cfg.Engine.MaxTokens,
	}, opts...)

	controller := control.New(eng, st, st, control.Options{
		MaxSessions: cfg.Orchestrator.MaxSessions,
		GracePeriod: cfg.Orchestrator.GracePeriod,
		Round: round.Policy{
			MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
			RetryAttempts:  cfg.Orchestrator.RetryAttempts,
			RetryBackoff:   cfg.Orchestrator.RetryBackoff,
		},
		Logger: log,
		Trace:  trace,
	})

	cleanup := func() {
		trace.Close()
		st.Close()
	}
	return controller, cleanup, nil
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the store",
		Long: `List every session that has left a footprint in the store:
cache entries from completed rounds and recorded checkpoints. Live
in-process sessions of a running MCP server are listed through the
troupe_sessions tool instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Dir)
			if err != nil {
				return err
			}
			defer st.Close()

			usages, err := st.Usage(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"sessions": usages,
					"count":    len(usages),
				})
			}

			if len(usages) == 0 {
				fmt.Println("No sessions recorded in the store.")
				return nil
			}
			fmt.Printf("Sessions (%d):\n\n", len(usages))
			for _, u := range usages {
				fmt.Printf("%s\n", u.SessionID)
				fmt.Printf("   Cache entries: %d\n", u.CacheEntries)
				fmt.Printf("   Checkpoints: %d\n", u.Checkpoints)
				if u.LastCheckpoint != "" {
					fmt.Printf("   Last checkpoint: %s\n", u.LastCheckpoint)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints recorded for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			jsonOut, _ := cmd.Flags().GetBool("json")
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Dir)
			if err != nil {
				return err
			}
			defer st.Close()

			metas, err := st.List(cmd.Context(), sessionID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"checkpoints": metas,
					"count":       len(metas),
				})
			}

			if len(metas) == 0 {
				fmt.Println("No checkpoints recorded for this session.")
				return nil
			}
			fmt.Printf("Checkpoints (%d):\n\n", len(metas))
			for _, m := range metas {
				fmt.Printf("%d. %s\n", m.Seq, m.ID)
				if m.Label != "" {
					fmt.Printf("   Label: %s\n", m.Label)
				}
				fmt.Printf("   Created: %s\n", m.CreatedAt.Format(time.RFC3339))
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().String("session", "", "Session ID (required)")
	return cmd
}
