package video

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// Stream is an open media stream and the title of its source.
type Stream struct {
	Title string
	Body  io.ReadCloser
	Size  int64
}

// YouTube resolves links and opens streams through kkdai/youtube.
type YouTube struct {
	client youtube.Client
	logger *slog.Logger
}

type YouTubeConfig struct {
	Logger *slog.Logger
}

func NewYouTube(cfg YouTubeConfig) *YouTube {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &YouTube{logger: cfg.Logger}
}

// Validate checks that url names a single video.
func (y *YouTube) Validate(url string) error {
	if _, err := youtube.ExtractVideoID(url); err != nil {
		return fmt.Errorf("invalid YouTube URL: %w", err)
	}
	return nil
}

// Open fetches the video metadata and opens the best stream: the highest
// bitrate audio-only stream when audioOnly, otherwise the highest resolution
// mp4 stream that carries audio.
func (y *YouTube) Open(ctx context.Context, url string, audioOnly bool) (*Stream, error) {
	v, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("video info: %w", err)
	}

	format, err := pickFormat(v.Formats, audioOnly)
	if err != nil {
		return nil, err
	}
	body, size, err := y.client.GetStreamContext(ctx, v, format)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	y.logger.Info("video stream opened", "title", v.Title, "itag", format.ItagNo,
		"mime", format.MimeType, "size", size)
	return &Stream{Title: v.Title, Body: body, Size: size}, nil
}

func pickFormat(formats youtube.FormatList, audioOnly bool) (*youtube.Format, error) {
	var candidates []youtube.Format
	for _, f := range formats {
		switch {
		case audioOnly && strings.HasPrefix(f.MimeType, "audio/"):
			candidates = append(candidates, f)
		case !audioOnly && strings.HasPrefix(f.MimeType, "video/mp4") && f.AudioChannels > 0:
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no suitable stream")
	}
	slices.SortStableFunc(candidates, func(a, b youtube.Format) int {
		if c := cmp.Compare(b.Height, a.Height); c != 0 {
			return c
		}
		return cmp.Compare(b.Bitrate, a.Bitrate)
	})
	return &candidates[0], nil
}
