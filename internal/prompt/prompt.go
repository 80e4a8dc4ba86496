// Package prompt serves the system prompt for conversational replies from a
// text file that operators may edit while the bot runs.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultPrompt is used when no prompt file is configured or readable.
const DefaultPrompt = "You are mediabot, a friendly assistant in a group chat. Keep replies short. " +
	"You can split a reply into several chat messages with |||."

// Source is a read-through cache over the prompt file. Get re-reads the file
// only when its modification time or size changed; Refresh forces a re-read.
type Source struct {
	path     string
	fallback string
	logger   *slog.Logger

	mu      sync.RWMutex
	text    string
	modTime time.Time
	size    int64
	loaded  bool
}

type SourceConfig struct {
	Path     string
	Fallback string // "" = DefaultPrompt
	Logger   *slog.Logger
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Source{path: cfg.Path, fallback: cfg.Fallback, logger: cfg.Logger}
}

// Get returns the current prompt. It never fails: an unreadable file keeps
// the last good value, or the fallback when there is none.
func (s *Source) Get() string {
	if s.path == "" {
		return s.fallback
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return s.current()
	}

	s.mu.RLock()
	fresh := s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size
	text := s.text
	s.mu.RUnlock()
	if fresh {
		return text
	}

	if err := s.Refresh(); err != nil {
		s.logger.Warn("system prompt reload failed", "path", s.path, "err", err)
	}
	return s.current()
}

func (s *Source) current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loaded {
		return s.text
	}
	return s.fallback
}

// Refresh re-reads the prompt file unconditionally.
func (s *Source) Refresh() error {
	if s.path == "" {
		return nil
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat prompt: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return errors.New("prompt file is empty")
	}

	s.mu.Lock()
	changed := s.text != text
	s.text, s.modTime, s.size, s.loaded = text, info.ModTime(), info.Size(), true
	s.mu.Unlock()

	if changed {
		s.logger.Info("system prompt loaded", "path", s.path, "chars", len(text))
	}
	return nil
}

// Watch polls the file every interval until ctx is done, so edits are picked
// up even between replies.
func (s *Source) Watch(ctx context.Context, interval time.Duration) {
	if s.path == "" {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Get()
		}
	}
}
