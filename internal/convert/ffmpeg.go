package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Format is an output container.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatMP4 Format = "mp4"
)

const DefaultAudioBitrateKbps = 128

// FFmpeg transcodes a stream read from stdin into a file.
type FFmpeg struct {
	path        string
	bitrateKbps int
	logger      *slog.Logger
}

type FFmpegConfig struct {
	Path             string // "" = look up on PATH
	AudioBitrateKbps int
	Logger           *slog.Logger
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.AudioBitrateKbps <= 0 {
		cfg.AudioBitrateKbps = DefaultAudioBitrateKbps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpeg{path: cfg.Path, bitrateKbps: cfg.AudioBitrateKbps, logger: cfg.Logger}
}

// Args returns the ffmpeg arguments used for format.
func (f *FFmpeg) Args(format Format, dst string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", "pipe:0"}
	switch format {
	case FormatMP3:
		args = append(args, "-vn", "-b:a", strconv.Itoa(f.bitrateKbps)+"k", "-f", "mp3")
	default:
		args = append(args, "-f", "mp4")
	}
	return append(args, dst)
}

// Transcode reads src until EOF and writes dst. There is no timeout beyond
// ctx.
func (f *FFmpeg) Transcode(ctx context.Context, src io.Reader, format Format, dst string) error {
	cmd := exec.CommandContext(ctx, f.path, f.Args(format, dst)...)
	cmd.Stdin = src
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	f.logger.Debug("transcode finished", "format", format, "dst", dst)
	return nil
}
