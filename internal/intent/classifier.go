// Package intent maps message text onto the closed set of conversion
// intents.
package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"mediabot/internal/domain"
	"mediabot/internal/metrics"
)

const (
	DefaultTimeout = 8 * time.Second
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 8 * time.Second

	// Texts shorter than this skip the external call unless they carry a
	// trigger keyword.
	minTextLen = 4
)

var triggerKeywords = regexp.MustCompile(`(?i)pdf|doc|img|jpg|png|pic`)

const instructions = `You classify chat messages into file-conversion intents.

Intents:
- word-to-pdf: turn a Word document into a PDF ("word to pdf", "convert this doc", "docx to pdf").
- combine-images-to-pdf: merge several images into one PDF ("combine images", "merge these photos", "images to pdf").
- image-to-pdf: turn one image into a PDF ("image to pdf", "convert this photo", "jpg to pdf").
- youtube-mp3: download the audio of a YouTube link ("mp3", "audio", "song" with a link).
- youtube-mp4: download the video of a YouTube link ("mp4", "video", "download this" with a link).

Rules:
- Only answer with an intent when the text explicitly asks for a conversion.
- An attachment alone never implies an intent.
- A link with "mp3", "audio" or "song" is youtube-mp3.
- A link with "mp4", "video" or just "download this" is youtube-mp4.
- Unrelated text ("cool pic", "look at this", "what do you think") is null.

Reply with the intent string only, or null. No quotes, punctuation or explanation.`

// Classifier resolves intents through an external completion service.
// It never returns an error: every failure resolves to IntentNone.
type Classifier struct {
	completer domain.Completer
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

type ClassifierConfig struct {
	Completer domain.Completer
	Model     string
	// Timeout bounds each external call. Values outside [5s, 8s] are clamped.
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		completer: cfg.Completer,
		model:     cfg.Model,
		timeout:   clampTimeout(cfg.Timeout),
		logger:    cfg.Logger,
	}
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Resolve classifies the caption first and consults the body only when the
// caption is absent or yields nothing. A body that repeats the caption is not
// sent again.
func (c *Classifier) Resolve(ctx context.Context, caption, body string) domain.Intent {
	if caption != "" {
		if in := c.Classify(ctx, caption); in != domain.IntentNone {
			return in
		}
		if strings.TrimSpace(body) == strings.TrimSpace(caption) {
			return domain.IntentNone
		}
	}
	return c.Classify(ctx, body)
}

// Classify issues at most one external call for text.
func (c *Classifier) Classify(ctx context.Context, text string) domain.Intent {
	if !worthClassifying(text) {
		return domain.IntentNone
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.completer.Complete(ctx, domain.CompletionRequest{
		Model: c.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: instructions},
			{Role: domain.RoleUser, Content: text},
		},
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "err", err)
		return domain.IntentNone
	}

	in := domain.ParseIntent(normalizeReply(reply))
	if in != domain.IntentNone {
		metrics.IntentsTotal(in.String()).Inc()
		c.logger.Info("intent detected", "intent", in, "text", text)
	}
	return in
}

func worthClassifying(text string) bool {
	if text == "" {
		return false
	}
	if utf8.RuneCountInString(text) < minTextLen && !triggerKeywords.MatchString(text) {
		return false
	}
	return true
}

func normalizeReply(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(`"`, "", "'", "").Replace(s)
}
