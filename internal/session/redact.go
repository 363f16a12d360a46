// Package session implements the cross-session memory lifecycle: the
// session state machine, mandatory event redaction, observation extraction
// at stop time, context injection at start time, and background
// consolidation of the tenant's unit store.
package session

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns is the built-in first tier: obvious credential shapes that
// must never reach disk regardless of configuration.
var secretPatterns = []*regexp.Regexp{
	// Bearer and basic auth headers.
	regexp.MustCompile(`(?i)\b(?:bearer|basic)\s+[A-Za-z0-9\-._~+/]{16,}=*`),
	// JWTs: three dot-separated base64url segments.
	regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\b`),
	// Common API key prefixes.
	regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9\-_]{16,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	// Key/value assignments of secret-looking names.
	regexp.MustCompile(`(?i)\b(?:password|passwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)\b\s*[:=]\s*\S+`),
	// Private key blocks.
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Redactor applies the mandatory three-tier payload scrub: built-in secret
// patterns, operator-configured identifier patterns, and a size cap. It is
// constructed once at startup; callers cannot bypass it.
type Redactor struct {
	extra  []*regexp.Regexp
	maxLen int
}

// NewRedactor compiles the configured identifier patterns. An invalid
// pattern is a startup error, not a silently skipped rule.
func NewRedactor(patterns []string, maxLen int) (*Redactor, error) {
	if maxLen <= 0 {
		maxLen = 16384
	}
	r := &Redactor{maxLen: maxLen}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact: invalid pattern %q: %w", p, err)
		}
		r.extra = append(r.extra, re)
	}
	return r, nil
}

// Redact scrubs payload through all three tiers and returns the persistable
// text.
func (r *Redactor) Redact(payload string) string {
	for _, re := range secretPatterns {
		payload = re.ReplaceAllString(payload, redactedPlaceholder)
	}
	for _, re := range r.extra {
		payload = re.ReplaceAllString(payload, redactedPlaceholder)
	}
	if len(payload) > r.maxLen {
		payload = truncateUTF8(payload, r.maxLen) + "\n[truncated]"
	}
	return payload
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
