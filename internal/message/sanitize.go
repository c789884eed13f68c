// Package message validates, sanitizes, flags, and stores chat messages.
package message

import (
	"html"
	"regexp"
	"strings"
)

// Compiled once at package init and reused for every message; regexps are
// safe for concurrent use.
var (
	// Script-bearing containers are removed with their contents; a stripped
	// <script> tag must not leave its payload behind as text.
	scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	iframeBlockPattern = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe>`)
	objectBlockPattern = regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object>`)
	embedTagPattern    = regexp.MustCompile(`(?i)<embed\b[^>]*>`)

	// Any remaining markup is stripped, not escaped in place.
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	// Scheme- and attribute-based injection vectors.
	schemePattern  = regexp.MustCompile(`(?i)(javascript|vbscript|livescript)\s*:`)
	handlerPattern = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// Sanitize removes markup and injection vectors from raw message content,
// HTML-escapes what is left, and trims surrounding whitespace. The result may
// be empty; callers reject empty output.
func Sanitize(raw string) string {
	s := scriptBlockPattern.ReplaceAllString(raw, "")
	s = iframeBlockPattern.ReplaceAllString(s, "")
	s = objectBlockPattern.ReplaceAllString(s, "")
	s = embedTagPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "")
	s = schemePattern.ReplaceAllString(s, "")
	s = handlerPattern.ReplaceAllString(s, "")
	s = html.EscapeString(s)
	return strings.TrimSpace(s)
}

// Detector flags messages that likely contain personal information. The
// pattern set is configuration, not core logic; DefaultPatterns covers
// emails, phone numbers, long digit runs, social handles, and profile URLs.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles a detector from the given pattern sources.
func NewDetector(patterns []string) (*Detector, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &Detector{patterns: compiled}, nil
}

// DefaultPatterns is the stock personal-information pattern set.
func DefaultPatterns() []string {
	return []string{
		`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`,
		`\b\d{11}\b`,
		`@\w+`,
		`instagram\.com/\w+`,
		`facebook\.com/\w+`,
		`twitter\.com/\w+`,
		`linkedin\.com/\w+`,
	}
}

// Flagged reports whether content matches any personal-information pattern.
// A match flags the message for moderation review; it never blocks storage.
func (d *Detector) Flagged(content string) bool {
	for _, re := range d.patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
