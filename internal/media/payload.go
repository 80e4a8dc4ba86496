package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"mediabot/internal/domain"
)

// ErrEmptyPayload is returned for zero-length media. It is the only
// normalization failure reported to callers.
var ErrEmptyPayload = errors.New("empty media payload")

var dataURLPrefix = regexp.MustCompile(`^data:[^;,]*;base64,`)

// DecodePayload resolves a transport payload to raw bytes.
func DecodePayload(p domain.Payload) ([]byte, error) {
	switch p.Kind {
	case domain.PayloadBinary:
		if len(p.Data) == 0 {
			return nil, ErrEmptyPayload
		}
		return p.Data, nil
	case domain.PayloadBase64:
		s := dataURLPrefix.ReplaceAllString(strings.TrimSpace(p.Encoded), "")
		if s == "" {
			return nil, ErrEmptyPayload
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			// Some clients drop the padding.
			b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		if len(b) == 0 {
			return nil, ErrEmptyPayload
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %d", p.Kind)
	}
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".webp"}

// IsImageMessage reports whether msg is image-shaped. Declared kind, declared
// media type and filename extension are independent signals; any one is enough.
func IsImageMessage(msg domain.InboundMessage) bool {
	if msg.Kind == domain.KindImage {
		return true
	}
	if strings.HasPrefix(strings.ToLower(msg.MimeType), "image/") {
		return true
	}
	if msg.Filename != "" {
		ext := strings.ToLower(filepath.Ext(msg.Filename))
		for _, e := range imageExtensions {
			if ext == e {
				return true
			}
		}
	}
	return false
}

const (
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
)

// IsWordMimeType reports whether a declared media type names a Word document.
func IsWordMimeType(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime == MimeDOCX || mime == MimeDOC
}
