// Package dispatch decides what happens to each inbound message: silent
// image collection, one of the conversion jobs, or a conversational reply.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"mediabot/internal/domain"
	"mediabot/internal/job"
	"mediabot/internal/media"
	"mediabot/internal/metrics"
	"mediabot/internal/state"
)

const (
	DefaultWakePhrase = "mediabot"

	// ReplyDelimiter splits one completion into several chat messages.
	ReplyDelimiter = "|||"

	minTypingDelay = 500 * time.Millisecond
	maxTypingDelay = 2000 * time.Millisecond
	perCharDelay   = 50 * time.Millisecond
	partPause      = 300 * time.Millisecond

	apologyText = "Sorry, I couldn't come up with a reply right now. Try again in a bit."
)

// Route names the single action taken for a message.
type Route string

const (
	RouteNone     Route = "none"
	RouteWord     Route = "word-to-pdf"
	RouteImage    Route = "image-to-pdf"
	RouteCombine  Route = "combine-images-to-pdf"
	RouteDownload Route = "download"
	RouteReply    Route = "reply"
)

type IntentResolver interface {
	Resolve(ctx context.Context, caption, body string) domain.Intent
}

type ImageNormalizer interface {
	Normalize(ctx context.Context, data []byte) (domain.DecodedImage, error)
}

// PromptSource returns the current system prompt. It is read on every reply.
type PromptSource interface {
	Get() string
}

// Pipelines holds one pipeline per routable intent. A nil pipeline makes its
// route fall through.
type Pipelines struct {
	Word    job.Pipeline
	Image   job.Pipeline
	Combine job.Pipeline
	MP3     job.Pipeline
	MP4     job.Pipeline
}

func (p Pipelines) download(in domain.Intent) job.Pipeline {
	switch in {
	case domain.IntentYouTubeMP3:
		return p.MP3
	case domain.IntentYouTubeMP4:
		return p.MP4
	}
	return nil
}

// Dispatcher handles one message at a time; it is safe to call Dispatch from
// many goroutines.
type Dispatcher struct {
	classifier IntentResolver
	normalizer ImageNormalizer
	fetcher    *job.Fetcher
	store      state.Store
	runner     *job.Runner
	pipelines  Pipelines
	completer  domain.Completer
	prompt     PromptSource
	chatModel  string
	wakePhrase string
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     *slog.Logger
}

type DispatcherConfig struct {
	Classifier IntentResolver
	Normalizer ImageNormalizer
	Fetcher    *job.Fetcher
	Store      state.Store
	Runner     *job.Runner
	Pipelines  Pipelines
	Completer  domain.Completer
	Prompt     PromptSource
	ChatModel  string
	WakePhrase string // "" = DefaultWakePhrase
	// Sleep waits between reply parts; nil uses a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.WakePhrase == "" {
		cfg.WakePhrase = DefaultWakePhrase
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		classifier: cfg.Classifier,
		normalizer: cfg.Normalizer,
		fetcher:    cfg.Fetcher,
		store:      cfg.Store,
		runner:     cfg.Runner,
		pipelines:  cfg.Pipelines,
		completer:  cfg.Completer,
		prompt:     cfg.Prompt,
		chatModel:  cfg.ChatModel,
		wakePhrase: strings.ToLower(cfg.WakePhrase),
		sleep:      cfg.Sleep,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// Dispatch classifies msg while collecting its image (if any), then runs at
// most one route. Failures never escape: they are logged or sent as text.
func (d *Dispatcher) Dispatch(ctx context.Context, t domain.Transport, msg domain.InboundMessage) Route {
	logger := d.logger.With("channel", msg.Channel, "conversation", msg.ConversationID, "message", msg.ID)

	var (
		intent  domain.Intent
		current *domain.DecodedImage
		g       errgroup.Group
	)
	g.Go(guarded(logger, "classify", func() {
		intent = d.classifier.Resolve(ctx, msg.Caption, msg.Body)
	}))
	if media.IsImageMessage(msg) {
		g.Go(guarded(logger, "collect", func() {
			current = d.collect(ctx, t, msg, logger)
		}))
	}
	_ = g.Wait()

	route := d.route(msg, intent)
	logger.Debug("message routed", "intent", intent, "route", route)

	switch route {
	case RouteWord:
		d.runner.Run(ctx, d.pipelines.Word, job.Request{Message: msg, Transport: t})
	case RouteImage:
		d.runner.Run(ctx, d.pipelines.Image, job.Request{Message: msg, Transport: t, Current: current})
	case RouteCombine:
		d.runner.Run(ctx, d.pipelines.Combine, job.Request{Message: msg, Transport: t})
	case RouteDownload:
		d.runner.Run(ctx, d.pipelines.download(intent), job.Request{Message: msg, Transport: t})
	case RouteNone:
		if !d.wantsReply(ctx, msg, logger) {
			return RouteNone
		}
		d.reply(ctx, t, msg, logger)
		return RouteReply
	}
	return route
}

// guarded runs fn on an errgroup goroutine, where a panic would otherwise
// take down the process.
func guarded(logger *slog.Logger, step string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("dispatch step panicked", "step", step, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		fn()
		return nil
	}
}

// route applies the priority order over conversion routes. The reply route
// is decided separately because it consumes the cooldown.
func (d *Dispatcher) route(msg domain.InboundMessage, intent domain.Intent) Route {
	if intent == domain.IntentNone {
		return RouteNone
	}
	mediaShaped := msg.Kind == domain.KindImage || msg.Kind == domain.KindDocument
	if mediaShaped {
		switch {
		case intent == domain.IntentWordToPDF && d.pipelines.Word != nil:
			return RouteWord
		case intent == domain.IntentImageToPDF && media.IsImageMessage(msg) && d.pipelines.Image != nil:
			return RouteImage
		}
	}
	switch {
	case intent == domain.IntentCombineToPDF && d.pipelines.Combine != nil:
		return RouteCombine
	case intent.IsDownload() && d.pipelines.download(intent) != nil:
		return RouteDownload
	}
	return RouteNone
}

// collect fetches, normalizes and buffers an image-shaped message. It never
// reports failure to the user.
func (d *Dispatcher) collect(ctx context.Context, t domain.Transport, msg domain.InboundMessage, logger *slog.Logger) *domain.DecodedImage {
	data, err := d.fetcher.Fetch(ctx, t, msg)
	if err != nil {
		logger.Warn("image collection: fetch failed", "err", err)
		return nil
	}
	img, err := d.normalizer.Normalize(ctx, data)
	if err != nil {
		logger.Warn("image collection: normalize failed", "err", err)
		return nil
	}
	n, err := d.store.AppendImage(ctx, msg.ConversationID, img)
	if err != nil {
		logger.Warn("image collection: append failed", "err", err)
		return &img
	}
	metrics.ImagesCollected.Inc()
	logger.Info("image collected", "buffered", n, "encoding", img.Encoding)
	return &img
}

func (d *Dispatcher) wantsReply(ctx context.Context, msg domain.InboundMessage, logger *slog.Logger) bool {
	if d.completer == nil || !strings.Contains(strings.ToLower(msg.Body), d.wakePhrase) {
		return false
	}
	ok, err := d.store.TryBeginReply(ctx, msg.ConversationID, d.now())
	if err != nil {
		logger.Warn("reply cooldown check failed", "err", err)
		return false
	}
	if !ok {
		logger.Debug("reply skipped: cooldown")
	}
	return ok
}

// reply runs the conversational path. History changes only after the
// completion succeeded.
func (d *Dispatcher) reply(ctx context.Context, t domain.Transport, msg domain.InboundMessage, logger *slog.Logger) {
	conv := msg.ConversationID
	d.typing(ctx, t, conv, true, logger)

	history, err := d.store.SnapshotHistory(ctx, conv)
	if err != nil {
		logger.Warn("history unavailable, replying without it", "err", err)
	}
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: d.systemPrompt()})
	for _, turn := range history {
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: msg.Body})

	text, err := d.completer.Complete(ctx, domain.CompletionRequest{Model: d.chatModel, Messages: messages})
	if err != nil {
		logger.Error("chat completion failed", "err", err)
		d.typing(ctx, t, conv, false, logger)
		if serr := t.SendText(ctx, conv, apologyText); serr != nil {
			logger.Warn("apology not delivered", "err", serr)
		}
		return
	}

	parts := SplitReply(text)
	if len(parts) == 0 {
		logger.Warn("chat completion was empty")
		d.typing(ctx, t, conv, false, logger)
		return
	}

	for _, part := range parts {
		d.typing(ctx, t, conv, true, logger)
		if err := d.sleep(ctx, TypingDelay(part)); err != nil {
			return
		}
		if err := t.SendText(ctx, conv, part); err != nil {
			logger.Warn("reply part not delivered", "err", err)
		}
		if len(parts) > 1 {
			if err := d.sleep(ctx, partPause); err != nil {
				return
			}
		}
	}
	d.typing(ctx, t, conv, false, logger)

	for _, turn := range []domain.Turn{
		{Role: domain.RoleUser, Text: msg.Body},
		{Role: domain.RoleAssistant, Text: strings.TrimSpace(text)},
	} {
		if err := d.store.AppendHistoryTurn(ctx, conv, turn); err != nil {
			logger.Warn("history append failed", "role", turn.Role, "err", err)
		}
	}
	metrics.RepliesTotal.Inc()
	logger.Info("reply sent", "parts", len(parts))
}

func (d *Dispatcher) systemPrompt() string {
	if d.prompt == nil {
		return ""
	}
	return d.prompt.Get()
}

func (d *Dispatcher) typing(ctx context.Context, t domain.Transport, conv string, on bool, logger *slog.Logger) {
	if err := t.SimulateTyping(ctx, conv, on); err != nil {
		logger.Debug("typing indicator failed", "on", on, "err", err)
	}
}

// SplitReply splits text on ReplyDelimiter, trimming each part and dropping
// empty ones.
func SplitReply(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, ReplyDelimiter) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// TypingDelay is 50ms per character, clamped to [500ms, 2s].
func TypingDelay(part string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(part)) * perCharDelay
	return min(maxTypingDelay, max(minTypingDelay, d))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
