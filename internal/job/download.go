package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mediabot/internal/convert"
	"mediabot/internal/video"
)

// DefaultMaxOutputBytes is the largest artifact a download job delivers.
const DefaultMaxOutputBytes = 100 << 20

// Downloader validates video links and opens their media streams.
type Downloader interface {
	Validate(url string) error
	Open(ctx context.Context, url string, audioOnly bool) (*video.Stream, error)
}

// Transcoder writes src into dst in the given container.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, format convert.Format, dst string) error
}

const (
	noLinkText   = "send a valid YouTube link."
	tooLargeText = "File is too large (>100MB) to send here."
)

// MediaDownload fetches a linked video and delivers it as mp3 or mp4.
type MediaDownload struct {
	env        Env
	downloader Downloader
	transcoder Transcoder
	format     convert.Format
	maxBytes   int64
}

type MediaDownloadConfig struct {
	Downloader Downloader
	Transcoder Transcoder
	Format     convert.Format
	MaxBytes   int64 // 0 = DefaultMaxOutputBytes
}

func NewMediaDownload(env Env, cfg MediaDownloadConfig) *MediaDownload {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxOutputBytes
	}
	return &MediaDownload{
		env:        env,
		downloader: cfg.Downloader,
		transcoder: cfg.Transcoder,
		format:     cfg.Format,
		maxBytes:   cfg.MaxBytes,
	}
}

func (p *MediaDownload) Kind() Kind {
	if p.format == convert.FormatMP3 {
		return KindYouTubeMP3
	}
	return KindYouTubeMP4
}

func (p *MediaDownload) FailureText(err error) string {
	return fmt.Sprintf("Failed to download: %s. specific vids might be restricted or too long.", describe(err))
}

func (p *MediaDownload) Run(ctx context.Context, j *Job, req Request) (Artifact, error) {
	msg := req.Message
	audio := p.format == convert.FormatMP3

	link := video.ExtractLink(msg.Body)
	if link == "" {
		return Artifact{}, reject(noLinkText)
	}

	what := "video"
	if audio {
		what = "audio"
	}
	notify(ctx, j, req, fmt.Sprintf("holup downloading %s...", what))

	j.Advance(StatusFetching)
	if err := p.downloader.Validate(link); err != nil {
		return Artifact{}, public("Invalid YouTube URL", err)
	}
	stream, err := p.downloader.Open(ctx, link, audio)
	if err != nil {
		return Artifact{}, err
	}
	defer stream.Body.Close()
	title := video.SanitizeTitle(stream.Title, "download")

	j.Advance(StatusTransforming)
	ext := "." + string(p.format)
	out := j.TempPath("download", ext)
	if err := p.transcoder.Transcode(ctx, stream.Body, p.format, out); err != nil {
		return Artifact{}, err
	}

	j.Advance(StatusWriting)
	info, err := os.Stat(out)
	if err != nil {
		return Artifact{}, fmt.Errorf("transcoded file missing: %w", err)
	}
	if info.Size() > p.maxBytes {
		j.Logger().Warn("artifact over size limit", "size", info.Size(), "limit", p.maxBytes)
		j.Cleanup()
		return Artifact{}, &Rejection{Text: tooLargeText, Err: ErrFileTooLarge}
	}

	j.Advance(StatusDelivering)
	filename := title + ext
	caption := fmt.Sprintf("here's your %s", p.format)
	if err := req.Transport.SendFile(ctx, msg.ConversationID, out, filename, caption); err != nil {
		return Artifact{}, err
	}
	return Artifact{Filename: filename, Size: info.Size()}, nil
}

// IsTooLarge reports whether an outcome was a size-limit rejection.
func IsTooLarge(o Outcome) bool {
	return errors.Is(o.Err, ErrFileTooLarge)
}
