// Package redact scrubs credentials from strings before they are logged or
// returned in error responses. Model provider errors, connection failures
// and webhook diagnostics routinely echo URLs, keys and tokens back.
package redact

import "regexp"

// Placeholders substituted for redacted values
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// rules run in order; later rules see the output of earlier ones.
var rules = []rule{
	// user:password in connection URLs (postgres, redis, http basic auth)
	{
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|https?)://[^\s@/]+@`),
		"${1}://" + RedactedCredentialPlaceholder + "@",
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		RedactedJWTPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
		"Bearer " + RedactedTokenPlaceholder,
	},
	// OpenAI-style and Google API keys
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{30,}`), RedactedKeyPlaceholder},
	// key=value and key: value pairs
	{
		regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|key)(\s*[=:]\s*)['"]?[^\s'"&,]{6,}`),
		"${1}${2}" + RedactionPlaceholder,
	},
	// webhook signatures
	{regexp.MustCompile(`sha256=[0-9a-fA-F]{64}`), "sha256=" + RedactionPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
