package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/driver"
	"github.com/brazhou04/interactive-gym/internal/envs"
	"github.com/brazhou04/interactive-gym/internal/input"
	"github.com/brazhou04/interactive-gym/internal/monitor"
	"github.com/brazhou04/interactive-gym/internal/policy"
	"github.com/brazhou04/interactive-gym/internal/secrets"
	"github.com/brazhou04/interactive-gym/internal/session"
	"github.com/brazhou04/interactive-gym/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "interactive-gym",
		Short:         "Run embedded-environment experiment sessions with human and AI participants.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newEnvsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newSummaryCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		envName     string
		dbPath      string
		monitorAddr string
		packagesDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a session from a config file or a built-in environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(configPath, envName)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Record.DatabasePath = dbPath
			}
			if monitorAddr != "" {
				cfg.Exp.MonitorAddr = monitorAddr
			}
			if packagesDir != "" {
				cfg.Env.PackagesDir = packagesDir
			}
			return runSession(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to an experiment config JSON file")
	cmd.Flags().StringVarP(&envName, "env", "e", "", "built-in environment name (see 'envs')")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides the config)")
	cmd.Flags().StringVar(&monitorAddr, "monitor", "", "monitor listen address, e.g. 127.0.0.1:7210")
	cmd.Flags().StringVar(&packagesDir, "packages-dir", "", "directory of <name>.js package sources for inline bootstraps")
	return cmd
}

func loadRunConfig(configPath, envName string) (*configs.Config, error) {
	if configPath != "" {
		return configs.Load(configPath)
	}
	if envName == "" {
		return nil, fmt.Errorf("either --config or --env is required")
	}
	env, ok := envs.Get(envName)
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (registered: %s)", envName, strings.Join(envs.List(), ", "))
	}
	cfg := env.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSession(ctx context.Context, cfg *configs.Config) error {
	logger := log.New(os.Stdout, "[interactive-gym] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutting down")
		cancel()
	}()

	loader, err := envs.Resolve(cfg)
	if err != nil {
		return err
	}

	keys := secrets.NewStore("", defaultKeysPath())
	policies := make(map[string]policy.Policy)
	for id, spec := range cfg.Police.Mapping {
		pol, human, err := policy.FromSpec(ctx, spec, policy.SpecConfig{
			Actions: cfg.Game.ActionSet,
			Task:    cfg.Police.Task,
			Seed:    cfg.Police.Seed,
			Keys:    keys,
		})
		if err != nil {
			return fmt.Errorf("policy for participant %s: %w", id, err)
		}
		if human {
			continue
		}
		policies[id] = pol
	}

	hud := &consoleHUD{logger: logger}
	drv, err := driver.New(cfg.ToDriver(loader, hud))
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Record.DatabasePath != "" {
		st, err = store.Open(cfg.Record.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(); err != nil {
			return err
		}
	}

	mode := cfg.Game.InputMode
	if mode == "" {
		mode = input.ModePressedKeys
	}

	runner, err := session.NewRunner(session.Options{
		Config:   cfg,
		Driver:   drv,
		Policies: policies,
		Input:    input.NewTracker(mode),
		Store:    st,
		Emitter:  &logEmitter{logger: logger},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if addr := cfg.Exp.MonitorAddr; addr != "" {
		mon := monitor.NewServer(runner, st)
		go func() {
			if err := mon.ListenAndServe(ctx, addr); err != nil {
				logger.Printf("monitor stopped: %v", err)
			}
		}()
	}

	logger.Printf("starting session %q (%d episodes, %.0f fps)", cfg.Name, cfg.Game.NumEpisodes, cfg.Game.FPS)
	if err := runner.Run(ctx); err != nil {
		return err
	}

	if st != nil && runner.SessionID() != "" {
		printSummary(st, runner.SessionID(), cfg)
	}
	return nil
}

func printSummary(st *store.Store, sessionID string, cfg *configs.Config) {
	summary, err := st.SessionSummary(sessionID, cfg.BonusRate())
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary unavailable: %v\n", err)
		return
	}
	fmt.Printf("session %s finished: %d episodes, %d steps, reward %s, bonus %s\n",
		sessionID, summary.Episodes, summary.Steps, summary.TotalReward.StringFixed(2), summary.Bonus.StringFixed(2))
}

func newEnvsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List the built-in environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range envs.List() {
				env, _ := envs.Get(name)
				fmt.Printf("%-12s %s\n", name, env.Description)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		dbPath string
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a recorded session as CSV or a compressed trajectory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return err
			}

			switch format {
			case "csv":
				var w *os.File = os.Stdout
				if out != "" {
					w, err = os.Create(out)
					if err != nil {
						return err
					}
					defer w.Close()
				}
				return st.ExportSessionCSV(sessionID, w)
			case "trajectory":
				if out == "" {
					out = sessionID + ".traj.lz4"
				}
				if err := st.ExportTrajectory(sessionID, out); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
				return nil
			}
			return fmt.Errorf("unknown format %q (want csv or trajectory)", format)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "interactive-gym.db", "SQLite database path")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "export format: csv or trajectory")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default stdout for csv)")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var (
		dbPath    string
		bonusRate string
	)

	cmd := &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Print a recorded session's totals and bonus payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return err
			}

			cfg := configs.New("summary")
			cfg.Record.BonusRate = bonusRate
			printSummary(st, args[0], cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "interactive-gym.db", "SQLite database path")
	cmd.Flags().StringVar(&bonusRate, "bonus-rate", "", "payout per reward point, e.g. 0.02")
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
	}

	keys := secrets.NewStore("", defaultKeysPath())

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <key>",
		Short: "Store an API key (openai, gemini)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keys.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("stored key for %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <provider>",
		Short: "Check whether an API key is configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: configured (%d chars)\n", args[0], len(key))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keys.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted key for %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := monitor.GetVersionInfo()
			fmt.Printf("interactive-gym %s (commit %s, built %s)\n", info.Version, info.GitCommit, info.BuildTime)
		},
	}
}

func defaultKeysPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".interactive-gym", "keys.json")
	}
	return filepath.Join(home, ".interactive-gym", "keys.json")
}

// consoleHUD mirrors the score/time overlay onto the log. The driver only
// needs something that accepts visibility and text updates.
type consoleHUD struct {
	logger  *log.Logger
	visible bool
	last    string
}

func (h *consoleHUD) SetVisible(visible bool) { h.visible = visible }

func (h *consoleHUD) SetText(text string) {
	if !h.visible || text == h.last {
		return
	}
	h.last = text
	h.logger.Println(text)
}

// logEmitter logs episode and session boundaries, skipping the per-step
// state stream.
type logEmitter struct {
	logger *log.Logger
}

func (e *logEmitter) Emit(event string, payload any) {
	if event == session.EventSessionState {
		return
	}
	if snap, ok := payload.(session.Snapshot); ok {
		e.logger.Printf("%s episode=%d step=%d", event, snap.EpisodeNum, snap.StepNum)
		return
	}
	e.logger.Println(event)
}
