package loop

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultDenyPhrases are completeness claims stripped from commit messages.
// The reviewer's score footer is the only completeness statement a commit
// may carry.
func DefaultDenyPhrases() []string {
	return []string{
		"fully implemented",
		"fully functional",
		"fully tested",
		"fully working",
		"complete implementation",
		"100% complete",
		"all features complete",
		"all edge cases",
		"everything works",
		"production-ready",
		"production ready",
		"comprehensive",
		"done and tested",
	}
}

var footerPattern = regexp.MustCompile(`(?mi)^completeness:\s*\d+%\s*$`)
var multiSpace = regexp.MustCompile(`[ \t]{2,}`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

// Sanitizer strips deny-listed completeness claims from commit messages and
// appends the verified score footer. Sanitization is idempotent: applying it
// twice yields the same message.
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// NewSanitizer compiles case-insensitive matchers for the given phrases. A
// nil or empty list falls back to DefaultDenyPhrases.
func NewSanitizer(phrases []string) *Sanitizer {
	if len(phrases) == 0 {
		phrases = DefaultDenyPhrases()
	}
	patterns := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
	}
	return &Sanitizer{patterns: patterns}
}

// Sanitize removes deny-listed phrases and any existing score footer, then
// normalizes whitespace. Factual content around the removed phrases is kept.
func (s *Sanitizer) Sanitize(message string) string {
	out := footerPattern.ReplaceAllString(message, "")
	for _, p := range s.patterns {
		out = p.ReplaceAllString(out, "")
	}

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))
	}
	out = strings.Join(lines, "\n")
	out = multiNewline.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)

	if out == "" {
		out = "Update implementation"
	}
	return out
}

// SanitizeWithScore sanitizes the message and appends the verified
// completeness footer. Any pre-existing footer is stripped first, so
// repeated application never stacks footers.
func (s *Sanitizer) SanitizeWithScore(message string, score int) string {
	return s.Sanitize(message) + fmt.Sprintf("\n\nCompleteness: %d%%", score)
}
