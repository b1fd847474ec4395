package policy

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9*_\-]{8,}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// RedactSecrets masks credentials and account emails that upstream
// providers echo back in error bodies.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	// Bearer first so the token after it is not matched twice.
	next := bearerPattern.ReplaceAllString(out, "Bearer [REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	next = apiKeyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redact is RedactSecrets without the change flag.
func Redact(input string) string {
	out, _ := RedactSecrets(input)
	return out
}
