package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"slices"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mediabot/internal/domain"
	"mediabot/internal/metrics"
)

const defaultJPEGQuality = 95

// Strategy is one attempt in the normalization chain. Strategies are
// independent: each receives the original bytes.
type Strategy struct {
	Name  string
	Apply func(ctx context.Context, data []byte) (domain.DecodedImage, error)
}

// Normalizer turns arbitrary inbound bytes into a DecodedImage, falling back
// through an ordered list of strategies and finally to the raw bytes.
type Normalizer struct {
	strategies []Strategy
	logger     *slog.Logger
}

type NormalizerConfig struct {
	TempDir string // where the file-backed strategy writes; "" = os.TempDir()
	Quality int
	Logger  *slog.Logger
}

// NewNormalizer builds the default chain: in-memory decode, file-backed
// decode, relaxed decode.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = defaultJPEGQuality
	}
	return NewNormalizerWithStrategies(cfg.Logger,
		Strategy{Name: "memory", Apply: memoryStrategy(cfg.Quality)},
		Strategy{Name: "file", Apply: fileStrategy(cfg.TempDir, cfg.Quality)},
		Strategy{Name: "relaxed", Apply: relaxedStrategy(cfg.Quality)},
	)
}

func NewNormalizerWithStrategies(logger *slog.Logger, strategies ...Strategy) *Normalizer {
	return &Normalizer{strategies: strategies, logger: logger}
}

// Normalize never fails on codec errors: when every strategy is exhausted it
// returns the original bytes tagged EncodingRaw. Only empty input is an error.
func (n *Normalizer) Normalize(ctx context.Context, data []byte) (domain.DecodedImage, error) {
	if len(data) == 0 {
		return domain.DecodedImage{}, ErrEmptyPayload
	}
	for i, s := range n.strategies {
		img, err := s.Apply(ctx, data)
		if err == nil {
			if i > 0 {
				n.logger.Info("image normalized by fallback strategy", "strategy", s.Name, "attempt", i+1)
			}
			return img, nil
		}
		metrics.NormalizeFallbacks(s.Name).Inc()
		n.logger.Warn("normalize strategy failed", "strategy", s.Name, "attempt", i+1, "err", err)
	}
	n.logger.Warn("all normalize strategies failed, keeping raw bytes", "size", len(data))
	return domain.DecodedImage{Data: data, Encoding: domain.EncodingRaw}, nil
}

func memoryStrategy(quality int) func(context.Context, []byte) (domain.DecodedImage, error) {
	return func(_ context.Context, data []byte) (domain.DecodedImage, error) {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return domain.DecodedImage{}, err
		}
		return encodeJPEG(img, quality)
	}
}

// fileStrategy retries the decode from a temporary file for codecs that need
// a seekable source. The file is removed on every branch.
func fileStrategy(dir string, quality int) func(context.Context, []byte) (domain.DecodedImage, error) {
	return func(_ context.Context, data []byte) (domain.DecodedImage, error) {
		f, err := os.CreateTemp(dir, "normalize_*.tmp")
		if err != nil {
			return domain.DecodedImage{}, fmt.Errorf("create temp: %w", err)
		}
		path := f.Name()
		defer os.Remove(path)

		_, werr := f.Write(data)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return domain.DecodedImage{}, fmt.Errorf("write temp: %w", err)
		}

		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return domain.DecodedImage{}, err
		}
		return encodeJPEG(img, quality)
	}
}

// relaxedStrategy tolerates junk before the image header and truncated JPEG
// streams, and skips orientation metadata entirely.
func relaxedStrategy(quality int) func(context.Context, []byte) (domain.DecodedImage, error) {
	return func(_ context.Context, data []byte) (domain.DecodedImage, error) {
		offsets := signatureOffsets(data)
		if len(offsets) == 0 {
			return domain.DecodedImage{}, errors.New("no image signature found")
		}

		var lastErr error
		for _, off := range offsets {
			body := data[off:]
			candidates := [][]byte{body}
			if bytes.HasPrefix(body, jpegSOI) && !bytes.HasSuffix(body, jpegEOI) {
				candidates = append(candidates, append(bytes.Clone(body), jpegEOI...))
			}
			for _, c := range candidates {
				img, _, err := image.Decode(bytes.NewReader(c))
				if err != nil {
					lastErr = err
					continue
				}
				return encodeJPEG(img, quality)
			}
		}
		return domain.DecodedImage{}, lastErr
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8, 0xFF}
	jpegEOI = []byte{0xFF, 0xD9}
)

var imageSignatures = [][]byte{
	jpegSOI,
	{0x89, 'P', 'N', 'G'},
	[]byte("GIF8"),
	[]byte("RIFF"),
	[]byte("BM"),
	{'I', 'I', '*', 0x00},
	{'M', 'M', 0x00, '*'},
}

// signatureOffsets returns the first offset of each known header, ascending.
func signatureOffsets(data []byte) []int {
	var offsets []int
	for _, sig := range imageSignatures {
		if i := bytes.Index(data, sig); i >= 0 {
			offsets = append(offsets, i)
		}
	}
	slices.Sort(offsets)
	return slices.Compact(offsets)
}

func encodeJPEG(img image.Image, quality int) (domain.DecodedImage, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return domain.DecodedImage{}, errors.New("decoded image has no pixels")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return domain.DecodedImage{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return domain.DecodedImage{
		Data:     buf.Bytes(),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Encoding: domain.EncodingJPEG,
	}, nil
}
