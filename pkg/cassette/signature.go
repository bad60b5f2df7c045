package cassette

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// NewSignature builds a Signature with the operation verb normalized to
// uppercase. Target should already be normalized by the caller (see
// NormalizeURL for HTTP targets).
func NewSignature(library, operation, target string) Signature {
	return Signature{
		Library:   library,
		Operation: strings.ToUpper(strings.TrimSpace(operation)),
		Target:    target,
	}
}

// NormalizeURL strips the query string and fragment from a URL so volatile
// parameter values never leak into the match target. Returns the input
// unchanged if it does not parse.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// QueryFingerprint reduces query parameters to their sorted key names.
// Values are deliberately dropped: keys identify the call shape while values
// (cursors, timestamps, signatures) churn between runs.
func QueryFingerprint(values url.Values) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HashBody returns the sha256 digest of a payload, prefixed with the
// algorithm name so cassettes stay self-describing. Nil input hashes to a
// fixed sentinel rather than the empty-string digest.
func HashBody(data []byte) string {
	if data == nil {
		return "sha256:none"
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ShortHash returns a truncated digest for filenames and log lines.
func ShortHash(data []byte, length int) string {
	h := HashBody(data)
	h = strings.TrimPrefix(h, "sha256:")
	if length > 0 && length < len(h) {
		return h[:length]
	}
	return h
}

// Equal reports full signature equality, including the tolerant axes.
// Replay matching uses the looser Matches instead.
func (s Signature) Equal(other Signature) bool {
	return s.Library == other.Library &&
		s.Operation == other.Operation &&
		s.Target == other.Target &&
		s.BodyHash == other.BodyHash &&
		equalKeys(s.Query, other.Query)
}

// Matches reports whether a recorded signature satisfies a live one under
// the tiered tolerance rules: library, operation and target must be equal;
// query fingerprint and body hash each match when equal or when either side
// is absent. Absence means the capture policy did not constrain that axis.
func (s Signature) Matches(live Signature) bool {
	if s.Library != live.Library || s.Operation != live.Operation || s.Target != live.Target {
		return false
	}
	if len(s.Query) > 0 && len(live.Query) > 0 && !equalKeys(s.Query, live.Query) {
		return false
	}
	if s.BodyHash != "" && live.BodyHash != "" && s.BodyHash != live.BodyHash {
		return false
	}
	return true
}

// Summary renders a short human-readable form for diagnostics.
func (s Signature) Summary() string {
	var b strings.Builder
	b.WriteString(s.Library)
	b.WriteByte(' ')
	b.WriteString(s.Operation)
	if s.Target != "" {
		b.WriteByte(' ')
		b.WriteString(s.Target)
	}
	if len(s.Query) > 0 {
		b.WriteString(" ?")
		b.WriteString(strings.Join(s.Query, ","))
	}
	return b.String()
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
