package llm

import (
	"context"
	"fmt"
	"log/slog"

	"mediabot/internal/domain"
)

// Failover retries a completion on fallback models when the requested one
// fails. The requested model always goes first.
type Failover struct {
	next      domain.Completer
	fallbacks []string
	logger    *slog.Logger
}

func NewFailover(next domain.Completer, fallbacks []string, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{next: next, fallbacks: fallbacks, logger: logger}
}

func (f *Failover) models(requested string) []string {
	out := []string{requested}
	seen := map[string]bool{requested: true}
	for _, m := range f.fallbacks {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Complete returns the first successful answer. A cancelled context stops the
// chain immediately.
func (f *Failover) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var lastErr error
	for i, model := range f.models(req.Model) {
		if i > 0 && ctx.Err() != nil {
			break
		}
		attempt := req
		attempt.Model = model
		text, err := f.next.Complete(ctx, attempt)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback model", "model", model, "attempt", i+1)
			}
			return text, nil
		}
		lastErr = err
		f.logger.Warn("failover: model failed", "model", model, "attempt", i+1, "err", err)
	}
	return "", fmt.Errorf("all models failed: %w", lastErr)
}
