package job

import (
	"context"
	"fmt"
	"log/slog"

	"mediabot/internal/domain"
	"mediabot/internal/media"
	"mediabot/internal/metrics"
	"mediabot/internal/retry"
)

// Fetcher retrieves and decodes message media through the transport.
type Fetcher struct {
	policy retry.Policy
	logger *slog.Logger
}

func NewFetcher(policy retry.Policy, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	policy.OnRetry = func(int, error) { metrics.FetchRetries.Inc() }
	return &Fetcher{policy: policy, logger: logger}
}

// Fetch retries the transport call per the policy; decoding happens once on
// the winning payload.
func (f *Fetcher) Fetch(ctx context.Context, t domain.Transport, msg domain.InboundMessage) ([]byte, error) {
	if !msg.HasMedia() {
		return nil, fmt.Errorf("message %s carries no media", msg.ID)
	}
	p, err := retry.Do(ctx, f.policy, "fetch media", func(ctx context.Context) (domain.Payload, error) {
		return t.FetchMedia(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return media.DecodePayload(p)
}

// FetchOnce makes a single bounded attempt, for fallbacks that must not
// stack another full retry cycle.
func (f *Fetcher) FetchOnce(ctx context.Context, t domain.Transport, msg domain.InboundMessage) ([]byte, error) {
	once := f.policy
	once.Attempts = 1
	if !msg.HasMedia() {
		return nil, fmt.Errorf("message %s carries no media", msg.ID)
	}
	p, err := retry.Do(ctx, once, "refetch media", func(ctx context.Context) (domain.Payload, error) {
		return t.FetchMedia(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return media.DecodePayload(p)
}
