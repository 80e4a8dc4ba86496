package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// Fallback dimensions when an image's header cannot be read.
const (
	FallbackWidth  = 800
	FallbackHeight = 600
)

// Dimensions reads width and height from the image header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

// DimensionsOrDefault is Dimensions with the 800x600 assumption on failure.
func DimensionsOrDefault(data []byte) (w, h int, ok bool) {
	w, h, err := Dimensions(data)
	if err != nil {
		return FallbackWidth, FallbackHeight, false
	}
	return w, h, true
}

// ReencodeAlpha decodes data and re-encodes it as PNG with an alpha channel.
func ReencodeAlpha(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	nrgba := imaging.Clone(img)
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, nrgba); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
