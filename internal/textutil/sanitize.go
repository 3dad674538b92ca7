package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxComponentBytes bounds one path element. Most filesystems cap names at
// 255 bytes; the margin leaves room for extensions and temp suffixes.
const MaxComponentBytes = 200

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters and control characters are removed. The result is trimmed of
// surrounding whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// PathComponent returns value as a single safe path element, or fallback
// when nothing usable remains. Leading and trailing dots are removed so the
// result can never be "." or ".." or a hidden file.
func PathComponent(value, fallback string) string {
	cleaned := SanitizeFileName(norm.NFC.String(value))
	cleaned = strings.Trim(cleaned, ". ")
	cleaned = truncateBytes(cleaned, MaxComponentBytes)
	cleaned = strings.TrimRight(cleaned, ". ")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// truncateBytes cuts s to at most limit bytes without splitting a rune.
func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
