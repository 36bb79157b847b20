package privacy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// OpenAI-style keys: sk-..., sk-proj-...
	apiKeyRegex = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)

	// Authorization header values echoed in error bodies
	bearerRegex = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}`)
)

// MaskSecret keeps just enough of a secret to tell credentials apart
func MaskSecret(secret string) string {
	if len(secret) < 12 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:3] + "..." + secret[len(secret)-4:]
}

// RedactSecrets replaces anything that looks like an API key
func RedactSecrets(text string) string {
	text = bearerRegex.ReplaceAllString(text, "Bearer [REDACTED]")
	text = apiKeyRegex.ReplaceAllString(text, "[API_KEY]")
	return text
}

// SanitizeForLogging prepares text for safe logging
func SanitizeForLogging(text string) string {
	redacted := RedactSecrets(text)

	if len(redacted) > 200 {
		// cut on a rune boundary so the result stays valid UTF-8
		cut := 197
		for cut > 0 && !utf8.RuneStart(redacted[cut]) {
			cut--
		}
		return redacted[:cut] + "..."
	}

	return redacted
}

// ContainsSecret checks if text contains something shaped like an API key
func ContainsSecret(text string) bool {
	return apiKeyRegex.MatchString(text) || bearerRegex.MatchString(text)
}
