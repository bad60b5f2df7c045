// Package policy holds the pure decision components: redaction of sensitive
// data, body-capture policy, and the hybrid mock/live resolver. Everything
// here is stateless and safe to share across concurrent sessions.
package policy

import (
	"regexp"
	"strings"
)

// RedactedValue replaces masked values. Redaction is one-way: a redacted
// cassette can never be unredacted.
const RedactedValue = "[REDACTED]"

// sensitiveHeaders are dropped entirely before storage, never masked or
// hashed (case-insensitive match).
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"www-authenticate":    {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"api-key":             {},
	"apikey":              {},
	"x-auth-token":        {},
	"x-access-token":      {},
	"x-refresh-token":     {},
	"x-session-token":     {},
	"x-csrf-token":        {},
	"x-xsrf-token":        {},
	"x-client-secret":     {},
	"x-secret-key":        {},
}

// sensitiveBodyKeys are matched as case-insensitive substrings of body field
// names, so "user_password" masks because it contains "password".
var sensitiveBodyKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"private_key", "client_secret", "credential", "jwt", "bearer",
	"csrf", "otp", "pin", "session_id", "ssn", "credit_card",
	"card_number", "cvv", "cvc", "bank_account", "routing_number", "iban",
}

// AllowedHeaders is the allow-list used for outbound dependency calls,
// where unknown headers are more likely to carry credentials.
var AllowedHeaders = map[string]struct{}{
	"content-type":     {},
	"content-length":   {},
	"accept":           {},
	"user-agent":       {},
	"x-request-id":     {},
	"x-correlation-id": {},
}

var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	"ssn":         regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
	"phone":       regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	"ipv4":        regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`),
}

// RedactHeaders returns a copy of headers with sensitive entries removed.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(k)]; sensitive {
			continue
		}
		out[k] = v
	}
	return out
}

// RedactHeadersAllowlist keeps only explicitly allowed headers. Safer than
// the denylist for outbound calls.
func RedactHeadersAllowlist(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, ok := AllowedHeaders[strings.ToLower(k)]; ok {
			out[k] = v
		}
	}
	return out
}

// RedactQueryParams masks query parameter values whose key looks sensitive
// and scrubs PII from the rest.
func RedactQueryParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = RedactedValue
		} else {
			out[k] = maskString(v)
		}
	}
	return out
}

// RedactBody walks a decoded JSON value, masking sensitive keys and PII in
// string leaves. The input is not mutated. Applying RedactBody twice yields
// the same result as applying it once.
func RedactBody(body any) any {
	return redactValue(body)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = RedactedValue
			} else {
				out[k] = redactValue(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	case string:
		return maskString(t)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveBodyKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskString handles token-like values and PII inside string leaves.
func maskString(value string) string {
	// Already-redacted markers pass through untouched.
	if strings.HasPrefix(value, "[REDACTED") {
		return value
	}

	// JWTs: header.payload.signature starting with base64url {"
	if strings.HasPrefix(value, "eyJ") && strings.Count(value, ".") == 2 {
		return RedactedValue
	}

	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return "Bearer " + RedactedValue
	}

	return RedactPIIText(value)
}

// RedactPIIText replaces detected PII substrings in free text with typed
// markers such as "[REDACTED:EMAIL]". Credit card candidates are validated
// with the Luhn checksum to cut false positives. Idempotent: markers are
// never re-redacted.
func RedactPIIText(text string) string {
	if len(text) < 5 {
		return text
	}

	out := piiPatterns["email"].ReplaceAllString(text, "[REDACTED:EMAIL]")
	out = piiPatterns["ssn"].ReplaceAllString(out, "[REDACTED:SSN]")

	out = piiPatterns["credit_card"].ReplaceAllStringFunc(out, func(m string) string {
		if luhnValid(digitsOf(m)) {
			return "[REDACTED:CREDIT_CARD]"
		}
		return m
	})

	out = piiPatterns["phone"].ReplaceAllStringFunc(out, func(m string) string {
		if n := len(digitsOf(m)); n >= 10 && n <= 15 {
			return "[REDACTED:PHONE]"
		}
		return m
	})

	out = piiPatterns["ipv4"].ReplaceAllString(out, "[REDACTED:IP]")

	return out
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid runs the Luhn checksum over a digit string.
func luhnValid(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
