// Package state holds per-conversation mutable state: the buffered images
// awaiting a combine, the chat history window and the reply cooldown.
package state

import (
	"context"
	"time"

	"mediabot/internal/domain"
)

const (
	DefaultHistoryLimit  = 20
	DefaultReplyCooldown = 5 * time.Second
)

// Store is safe for concurrent use. Each operation is atomic with respect to
// one conversation; sequences of operations are not.
type Store interface {
	// AppendImage adds img to the end of the buffer and returns the new length.
	AppendImage(ctx context.Context, conv string, img domain.DecodedImage) (int, error)
	// SnapshotImages returns a copy of the buffer, oldest first.
	SnapshotImages(ctx context.Context, conv string) ([]domain.DecodedImage, error)
	ClearImages(ctx context.Context, conv string) error

	// AppendHistoryTurn keeps only the most recent history-limit turns.
	AppendHistoryTurn(ctx context.Context, conv string, turn domain.Turn) error
	SnapshotHistory(ctx context.Context, conv string) ([]domain.Turn, error)

	// TryBeginReply reports whether the cooldown since the previous reply in
	// conv has elapsed, and if so records now as the latest reply.
	TryBeginReply(ctx context.Context, conv string, now time.Time) (bool, error)

	Close() error
}

type Options struct {
	HistoryLimit  int
	ReplyCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.ReplyCooldown <= 0 {
		o.ReplyCooldown = DefaultReplyCooldown
	}
	return o
}
