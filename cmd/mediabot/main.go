package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/job"
	"mediabot/internal/ledger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// A missing .env is normal; anything set there only fills unset variables.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "mediabot",
		Short: "mediabot: chat bot that converts documents, images and videos",
		Long: "mediabot listens on Telegram, WhatsApp, Discord or the terminal and turns Word files and images " +
			"into PDFs, YouTube links into MP3/MP4, and answers when addressed by its wake phrase.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.mediabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and swaps the bootstrap logger for one
// that honours general.logLevel and general.logFile.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, closer, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	return cfg, func() { closer.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.WorkDir, cfg.Channels.CLI.OutboxDir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "workDir", config.ExpandPath(cfg.General.WorkDir))
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	var limit int
	var conversation string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent conversion jobs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := loadConfig()
			if err != nil {
				return err
			}
			defer done()
			if !cfg.Ledger.Enabled {
				return fmt.Errorf("job ledger is disabled (ledger.enabled=false)")
			}

			l, err := ledger.Open(cfg.Ledger.DBPath, logger)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := cmd.Context()
			var entries []ledger.Entry
			if conversation != "" {
				entries, err = l.ByConversation(ctx, conversation, limit)
			} else {
				entries, err = l.Recent(ctx, limit)
			}
			if err != nil {
				return fmt.Errorf("query ledger: %w", err)
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	cmd.Flags().StringVar(&conversation, "conversation", "", "only show jobs for this conversation")
	return cmd
}

func printEntries(entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Println("no jobs recorded")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tKIND\tSTATUS\tSTAGE\tCHANNEL\tCONVERSATION\tSIZE\tTOOK\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			e.Kind, e.Status, e.Stage, e.Channel, e.Conversation,
			e.ArtifactSize, e.Duration().Round(time.Millisecond), e.Error,
		)
	}
	tw.Flush()
}

func sweepCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned job artifacts left behind by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := loadConfig()
			if err != nil {
				return err
			}
			defer done()
			if maxAge <= 0 {
				maxAge = cfg.General.OrphanMaxAge()
			}
			n, err := job.SweepOrphans(cfg.General.WorkDir, maxAge, logger)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d orphaned artifact(s) older than %s from %s\n", n, maxAge, cfg.General.WorkDir)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "older-than", 0, "minimum artifact age (default: general.orphanMaxAgeMinutes)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.wakePhrase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. state.backend redis)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			flat := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(flat))
			for k := range flat {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				data, _ := json.Marshal(flat[k])
				fmt.Printf("%s = %s\n", k, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
