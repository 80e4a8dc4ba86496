package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mediabot/internal/channel"
	"mediabot/internal/config"
	"mediabot/internal/domain"
	"mediabot/internal/metrics"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (enabled chat channels + dispatcher)",
		Long:  "Starts every enabled network channel (Telegram, WhatsApp, Discord), the dispatcher and, when http.enabled, the health/metrics/webhook server. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long:  "Runs the dispatcher against a local CLI channel. Attach files with /image <path> [caption] or /doc <path> [caption].",
		RunE:  runChat,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, done, err := loadConfig()
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.sweep(ctx)

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
		logger.Debug("started", "component", name)
	}

	if cfg.General.PromptPollSeconds > 0 {
		run("prompt-watch", func() { a.prompt.Watch(ctx, time.Duration(cfg.General.PromptPollSeconds)*time.Second) })
	}
	run("prompt-sighup", func() { reloadOnHangup(ctx, a) })
	run("dispatch-loop", func() { a.loop.Run(ctx) })

	channels := networkChannels(cfg)
	for _, ch := range channels {
		run(ch.Name(), func() {
			if err := ch.Start(ctx, a.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		})
		logger.Info("channel enabled", "channel", ch.Name())
	}
	if len(channels) == 0 {
		logger.Warn("no network channels enabled; use 'mediabot chat' for local testing")
	}

	var srv *http.Server
	if cfg.HTTP.Enabled {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           gatewayMux(cfg, channels),
			ReadHeaderTimeout: 10 * time.Second,
		}
		run("http", func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		})
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}
	for _, ch := range channels {
		if err := ch.Stop(); err != nil {
			logger.Warn("channel stop", "channel", ch.Name(), "err", err)
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// networkChannels builds every enabled non-terminal channel.
func networkChannels(cfg *config.Config) []domain.Channel {
	var out []domain.Channel
	if c := cfg.Channels.Telegram; c.Enabled && c.Token != "" {
		out = append(out, channel.NewTelegram(channel.TelegramConfig{
			Token:     c.Token,
			AllowFrom: c.AllowFrom,
			Logger:    logger,
		}))
	}
	if c := cfg.Channels.WhatsApp; c.Enabled {
		out = append(out, channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: c, Logger: logger}))
	}
	if c := cfg.Channels.Discord; c.Enabled && c.Token != "" {
		out = append(out, channel.NewDiscord(channel.DiscordConfig{
			Token:   c.Token,
			GuildID: c.GuildID,
			Logger:  logger,
		}))
	}
	return out
}

// gatewayMux serves health, metrics and any channel webhooks.
func gatewayMux(cfg *config.Config, channels []domain.Channel) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok %s\n", metrics.Collector.Uptime().Round(time.Second))
	})
	mux.Handle("GET "+cfg.HTTP.MetricsPath, metrics.Collector.Handler())

	type webhook interface {
		WebhookPath() string
		Handler() http.Handler
	}
	for _, ch := range channels {
		if wh, ok := ch.(webhook); ok {
			mux.Handle(wh.WebhookPath(), wh.Handler())
		}
	}
	return mux
}

// reloadOnHangup re-reads the system prompt on SIGHUP.
func reloadOnHangup(ctx context.Context, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.prompt.Refresh(); err != nil {
				logger.Warn("prompt reload failed", "err", err)
			} else {
				logger.Info("system prompt reloaded")
			}
		}
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		// Chat works without a config file; replies still need an API key.
		cfg = config.Defaults()
		if err := config.ApplyEnv(cfg); err != nil {
			return err
		}
		for _, p := range []*string{&cfg.General.WorkDir, &cfg.General.SystemPromptPath, &cfg.Channels.CLI.OutboxDir, &cfg.Ledger.DBPath} {
			*p = config.ExpandPath(*p)
		}
		logger.Warn("config not loaded, using defaults", "path", resolveConfigPath(), "err", err)
	}
	// Keep the terminal readable: only warnings and above go to stderr.
	cfg.General.LogLevel = "warn"
	l, closer, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = l

	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.loop.Run(ctx)
	}()

	cli := channel.NewCLI(channel.CLIConfig{OutboxDir: cfg.Channels.CLI.OutboxDir, Logger: logger})
	err = cli.Start(ctx, a.bus)
	stop()
	<-loopDone
	return err
}
