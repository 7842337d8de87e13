package util

import (
	"html"
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// nulReplacer drops raw NUL bytes and their common escaped spellings,
// which Postgres text columns reject.
var nulReplacer = strings.NewReplacer("\x00", "", `\u0000`, "", `\00`, "", `\x00`, "")

// StripNUL removes NUL characters from a serialized API payload.
func StripNUL(s string) string { return nulReplacer.Replace(s) }

var anchor = regexp.MustCompile(`(?is)<a[^>]*>(.*?)</a>`)

// SourceName extracts the client name from a tweet's HTML source attribute.
// Plain values such as "web" are returned unchanged.
func SourceName(s string) string {
	if m := anchor.FindStringSubmatch(s); m != nil {
		return NormalizeWhitespace(html.UnescapeString(m[1]))
	}
	return NormalizeWhitespace(s)
}
