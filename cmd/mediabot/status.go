package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/ledger"
	"mediabot/internal/state"

	"github.com/spf13/cobra"
)

// checks tallies the outcome of each status line.
type checks struct {
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	c.passed++
}

func (c *checks) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	c.warned++
}

func (c *checks) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	c.failed++
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, external tools, state backend and the job ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("mediabot status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var c checks
			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mediabot init' to create a default configuration.\n")
				return nil
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return fmt.Errorf("invalid config")
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if cfg.LLM.APIKey == "" {
				c.warn("LLM", "no API key: intents and replies will fail")
			} else {
				c.pass("LLM", fmt.Sprintf("%s (%s)", cfg.LLM.APIBase, cfg.LLM.ChatModel))
			}

			checkTool(&c, "LibreOffice", cfg.Media.SofficePath, "soffice", "libreoffice")
			checkTool(&c, "ffmpeg", cfg.Media.FFmpegPath, "ffmpeg")

			enabled := enabledChannels(cfg)
			if len(enabled) == 0 {
				c.warn("Channels", "no network channel enabled")
			} else {
				c.pass("Channels", fmt.Sprint(enabled))
			}

			if cfg.State.Backend == "redis" {
				rs, err := state.NewRedisStore(ctx, state.RedisConfig{URL: cfg.State.RedisURL})
				if err != nil {
					c.fail("State (redis)", err.Error())
				} else {
					rs.Close()
					c.pass("State (redis)", "reachable")
				}
			} else {
				c.pass("State", "in-memory (lost on restart)")
			}

			if cfg.Ledger.Enabled {
				checkLedger(ctx, &c, cfg.Ledger.DBPath)
			}

			if cfg.HTTP.Enabled {
				if err := checkAddr(cfg.HTTP.Addr); err != nil {
					c.warn("HTTP addr", fmt.Sprintf("%s may be in use: %v", cfg.HTTP.Addr, err))
				} else {
					c.pass("HTTP addr", cfg.HTTP.Addr+" available")
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
}

func enabledChannels(cfg *config.Config) []string {
	var out []string
	if cfg.Channels.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if cfg.Channels.WhatsApp.Enabled {
		out = append(out, "whatsapp")
	}
	if cfg.Channels.Discord.Enabled {
		out = append(out, "discord")
	}
	return out
}

// checkTool looks for the configured binary, then the fallbacks on PATH.
func checkTool(c *checks, label, configured string, names ...string) {
	if configured != "" {
		names = []string{configured}
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			c.pass(label, p)
			return
		}
	}
	c.warn(label, fmt.Sprintf("%v not found; related conversions will fail", names))
}

func checkLedger(ctx context.Context, c *checks, dbPath string) {
	l, err := ledger.Open(dbPath, logger)
	if err != nil {
		c.fail("Job ledger", err.Error())
		return
	}
	defer l.Close()

	counts, err := l.Counts(ctx)
	if err != nil {
		c.fail("Job ledger", err.Error())
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	summary := dbPath
	for _, k := range keys {
		summary += fmt.Sprintf(" %s=%d", k, counts[k])
	}
	c.pass("Job ledger", summary)
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
