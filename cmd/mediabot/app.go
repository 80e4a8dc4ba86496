package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediabot/internal/bus"
	"mediabot/internal/config"
	"mediabot/internal/convert"
	"mediabot/internal/dispatch"
	"mediabot/internal/intent"
	"mediabot/internal/job"
	"mediabot/internal/ledger"
	"mediabot/internal/llm"
	"mediabot/internal/media"
	"mediabot/internal/prompt"
	"mediabot/internal/retry"
	"mediabot/internal/state"
	"mediabot/internal/video"
)

// newLogger builds the process logger from general.logLevel and
// general.logFile. The returned closer releases the log file, if any.
func newLogger(cfg config.GeneralConfig) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
	return slog.New(h), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app holds the wired core shared by the gateway and chat commands.
type app struct {
	cfg     *config.Config
	bus     *bus.InMemoryBus
	store   state.Store
	ledger  *ledger.Ledger
	prompt  *prompt.Source
	loop    *dispatch.Loop
	closers []func() error
	logger  *slog.Logger
}

// buildApp wires state, LLM, jobs and the dispatcher. Channels are attached
// by the caller.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.General.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	storeOpts := state.Options{
		HistoryLimit:  cfg.General.HistoryLimit,
		ReplyCooldown: cfg.General.ReplyCooldown(),
	}
	switch cfg.State.Backend {
	case "redis":
		rs, err := state.NewRedisStore(ctx, state.RedisConfig{
			URL:     cfg.State.RedisURL,
			Options: storeOpts,
			TTL:     time.Duration(cfg.State.TTLHours) * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		a.store = rs
		logger.Info("state backend", "backend", "redis")
	default:
		a.store = state.NewMemoryStore(storeOpts)
		logger.Info("state backend", "backend", "memory")
	}
	a.closers = append(a.closers, a.store.Close)

	var recorder job.Recorder
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.DBPath, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("job ledger: %w", err)
		}
		a.ledger = l
		a.closers = append(a.closers, l.Close)
		recorder = l
	}

	client := llm.NewClient(llm.ClientConfig{
		APIKey:        cfg.LLM.APIKey,
		APIBase:       cfg.LLM.APIBase,
		Model:         cfg.LLM.ChatModel,
		AppTitle:      cfg.LLM.AppTitle,
		RatePerMinute: cfg.LLM.RateLimitPerMinute,
		HTTPClient:    llm.NewHTTPClient(time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second),
		Logger:        logger,
	})
	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key configured; intent detection and replies will fail")
	}

	classifier := intent.NewClassifier(intent.ClassifierConfig{
		Completer: client,
		Model:     cfg.LLM.ClassifierModel,
		Timeout:   cfg.LLM.ClassifierTimeout(),
		Logger:    logger,
	})

	a.prompt = prompt.NewSource(prompt.SourceConfig{
		Path:   cfg.General.SystemPromptPath,
		Logger: logger,
	})

	fetcher := job.NewFetcher(retry.Policy{
		Attempts: cfg.Media.FetchAttempts,
		Timeout:  cfg.Media.FetchTimeout(),
		Backoff:  cfg.Media.FetchBackoff(),
	}, logger)

	normalizer := media.NewNormalizer(media.NormalizerConfig{
		TempDir: cfg.General.WorkDir,
		Quality: cfg.Media.JPEGQuality,
		Logger:  logger,
	})

	env := job.Env{
		Store:   a.store,
		Fetcher: fetcher,
		WorkDir: cfg.General.WorkDir,
		Logger:  logger,
	}
	office := convert.NewLibreOffice(convert.LibreOfficeConfig{
		Path:    cfg.Media.SofficePath,
		WorkDir: cfg.General.WorkDir,
		Logger:  logger,
	})
	ffmpeg := convert.NewFFmpeg(convert.FFmpegConfig{
		Path:             cfg.Media.FFmpegPath,
		AudioBitrateKbps: cfg.Media.AudioBitrateKbps,
		Logger:           logger,
	})
	yt := video.NewYouTube(video.YouTubeConfig{Logger: logger})
	download := func(format convert.Format) job.Pipeline {
		return job.NewMediaDownload(env, job.MediaDownloadConfig{
			Downloader: yt,
			Transcoder: ffmpeg,
			Format:     format,
			MaxBytes:   cfg.Media.MaxOutputBytes(),
		})
	}

	a.bus = bus.New(100, logger)

	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Classifier: classifier,
		Normalizer: normalizer,
		Fetcher:    fetcher,
		Store:      a.store,
		Runner: job.NewRunner(job.RunnerConfig{
			WorkDir:  cfg.General.WorkDir,
			Recorder: recorder,
			Logger:   logger,
		}),
		Pipelines: dispatch.Pipelines{
			Word:    job.NewWordToPDF(env, office),
			Image:   job.NewImageToPDF(env),
			Combine: job.NewCombineImages(env),
			MP3:     download(convert.FormatMP3),
			MP4:     download(convert.FormatMP4),
		},
		Completer:  llm.NewFailover(client, cfg.LLM.FallbackModels, logger),
		Prompt:     a.prompt,
		ChatModel:  cfg.LLM.ChatModel,
		WakePhrase: cfg.General.WakePhrase,
		Logger:     logger,
	})

	a.loop = dispatch.NewLoop(dispatch.LoopConfig{
		Dispatcher:  dispatcher,
		Bus:         a.bus,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Logger:      logger,
	})
	return a, nil
}

// sweep removes orphaned job artifacts and, when the ledger is open, prunes
// entries past the retention window.
func (a *app) sweep(ctx context.Context) {
	n, err := job.SweepOrphans(a.cfg.General.WorkDir, a.cfg.General.OrphanMaxAge(), a.logger)
	if err != nil {
		a.logger.Warn("orphan sweep failed", "err", err)
	} else if n > 0 {
		a.logger.Info("removed orphaned artifacts", "count", n)
	}
	if a.ledger != nil && a.cfg.Ledger.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -a.cfg.Ledger.RetentionDays)
		if n, err := a.ledger.Prune(ctx, cutoff); err != nil {
			a.logger.Warn("ledger prune failed", "err", err)
		} else if n > 0 {
			a.logger.Info("pruned job ledger", "count", n)
		}
	}
}

// Close releases the bus and every backing store, newest first.
func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
