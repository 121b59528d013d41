package store

import (
	"net/http"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const zeroWidthNonJoiner = '\u200c'

// SanitizeFilename keeps letters, digits and combining marks of any script and
// turns every other rune into "_". Runs of "_" collapse and the result is cut
// to maxRunes. An empty result becomes "image".
func SanitizeFilename(s string, maxRunes int) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == zeroWidthNonJoiner {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if maxRunes > 0 {
		if runes := []rune(out); len(runes) > maxRunes {
			out = strings.TrimRight(string(runes[:maxRunes]), "_")
		}
	}
	if out == "" {
		return "image"
	}
	return out
}

var imageExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
}

// imageExtension picks the extension from the URL path, then from the declared
// or sniffed content type.
func imageExtension(rawURL, contentType string, body []byte) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	ext := strings.ToLower(path.Ext(rawURL))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for _, known := range imageExtensions {
		if ext == known {
			return ext
		}
	}

	for _, ct := range []string{contentType, http.DetectContentType(body)} {
		mediaType, _, _ := strings.Cut(ct, ";")
		if ext, ok := imageExtensions[strings.TrimSpace(strings.ToLower(mediaType))]; ok {
			return ext
		}
	}
	return ".img"
}
