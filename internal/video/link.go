// Package video finds video links in chat text and streams them from the
// host.
package video

import (
	"regexp"
	"strings"
	"unicode"
)

// linkPattern matches YouTube watch, short and youtu.be links. It runs on the
// original text: video IDs are case-sensitive.
var linkPattern = regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?(youtube\.com|youtu\.be)/[^\s]+`)

// ExtractLink returns the first video link in text, or "".
func ExtractLink(text string) string {
	return linkPattern.FindString(text)
}

const maxTitleLen = 50

// SanitizeTitle keeps ASCII letters, digits, underscores and whitespace and
// caps the result at 50 characters. An empty result becomes fallback.
func SanitizeTitle(title, fallback string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxTitleLen {
			break
		}
		if r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) || unicode.IsSpace(r) {
			b.WriteRune(r)
			n++
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return fallback
	}
	return b.String()
}
