package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	// ISO 3779 VINs are 17 characters and never contain I, O or Q.
	vinPattern = regexp.MustCompile(`(?i)\b[A-HJ-NPR-Z0-9]{17}\b`)
)

// RedactPII masks common high-risk PII patterns before content reaches logs.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// VINs can be all digits in their tail, so mask them before card and phone.
	next = vinPattern.ReplaceAllString(out, "[REDACTED_VIN]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redacted is RedactPII without the change flag, for log fields.
func Redacted(input string) string {
	out, _ := RedactPII(input)
	return out
}
