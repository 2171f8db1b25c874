package gateway

import (
	"net/url"
	"regexp"
	"strings"
)

// maxMessageTextLength truncates message bodies so a single run of text
// cannot blow out context windows or storage rows.
const maxMessageTextLength = 4000

// maxInlineURLLength is the longest a URL may appear verbatim in sanitized
// text before it is redacted down to its host.
const maxInlineURLLength = 120

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// URLMetadata is extracted from a URL found in inbound text.
type URLMetadata struct {
	Raw  string `json:"raw"`
	Host string `json:"host"`
}

// SanitizeResult is the output of Sanitize: the cleaned text plus any URL
// metadata pulled out of it.
type SanitizeResult struct {
	Text string
	URLs []URLMetadata
}

// Sanitize strips control characters (preserving tab and newline), truncates
// to maxMessageTextLength runes, and redacts any URL longer than
// maxInlineURLLength down to its host while recording its metadata.
//
// Sanitize is idempotent: Sanitize(Sanitize(x).Text).Text == Sanitize(x).Text.
func Sanitize(text string) SanitizeResult {
	stripped := stripControlChars(text)
	truncated := truncateRunes(stripped, maxMessageTextLength)

	var urls []URLMetadata
	redacted := urlPattern.ReplaceAllStringFunc(truncated, func(match string) string {
		host := hostOf(match)
		urls = append(urls, URLMetadata{Raw: match, Host: host})
		if len(match) <= maxInlineURLLength {
			return match
		}
		return "[redacted-url:" + host + "]"
	})

	return SanitizeResult{Text: redacted, URLs: urls}
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
