package state

import (
	"context"
	"slices"
	"sync"
	"time"

	"mediabot/internal/domain"
)

// MemoryStore keeps state for the process lifetime. Conversations are
// created lazily and each carries its own lock; there is no global lock.
type MemoryStore struct {
	convs sync.Map // conversation id -> *conversation
	opts  Options
}

type conversation struct {
	mu        sync.Mutex
	images    []domain.DecodedImage
	history   []domain.Turn
	lastReply time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults()}
}

func (s *MemoryStore) conv(id string) *conversation {
	if c, ok := s.convs.Load(id); ok {
		return c.(*conversation)
	}
	c, _ := s.convs.LoadOrStore(id, &conversation{})
	return c.(*conversation)
}

func (s *MemoryStore) AppendImage(_ context.Context, id string, img domain.DecodedImage) (int, error) {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, img)
	return len(c.images), nil
}

func (s *MemoryStore) SnapshotImages(_ context.Context, id string) ([]domain.DecodedImage, error) {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.images), nil
}

func (s *MemoryStore) ClearImages(_ context.Context, id string) error {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = nil
	return nil
}

func (s *MemoryStore) AppendHistoryTurn(_ context.Context, id string, turn domain.Turn) error {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, turn)
	if over := len(c.history) - s.opts.HistoryLimit; over > 0 {
		c.history = slices.Clone(c.history[over:])
	}
	return nil
}

func (s *MemoryStore) SnapshotHistory(_ context.Context, id string) ([]domain.Turn, error) {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history), nil
}

func (s *MemoryStore) TryBeginReply(_ context.Context, id string, now time.Time) (bool, error) {
	c := s.conv(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastReply.IsZero() && now.Sub(c.lastReply) <= s.opts.ReplyCooldown {
		return false, nil
	}
	c.lastReply = now
	return true, nil
}

// Len returns the number of conversations seen so far.
func (s *MemoryStore) Len() int {
	n := 0
	s.convs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) Close() error { return nil }
