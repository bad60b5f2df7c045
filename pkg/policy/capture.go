package policy

import (
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/retracehq/retrace/pkg/cassette"
)

// CapturePolicy controls when request/response bodies are stored.
type CapturePolicy string

const (
	CaptureNever   CapturePolicy = "never"
	CaptureOnError CapturePolicy = "on_error"
	CaptureAlways  CapturePolicy = "always"
)

// Valid reports whether p is a known capture policy.
func (p CapturePolicy) Valid() bool {
	switch p {
	case CaptureNever, CaptureOnError, CaptureAlways:
		return true
	}
	return false
}

// ShouldStoreBody decides whether a body is stored under policy p, given
// whether the surrounding request errored.
func ShouldStoreBody(p CapturePolicy, isError bool) bool {
	switch p {
	case CaptureAlways:
		return true
	case CaptureOnError:
		return isError
	default:
		return false
	}
}

// TruncateBody caps a payload at maxKB kilobytes. Returns the (possibly
// shortened) bytes and whether truncation happened.
func TruncateBody(data []byte, maxKB int) ([]byte, bool) {
	maxBytes := maxKB * 1024
	if maxKB <= 0 || len(data) <= maxBytes {
		return data, false
	}
	return data[:maxBytes], true
}

// SnapshotBody builds a redacted BodySnapshot from raw payload bytes.
//
// The hash covers the full pre-truncation payload so replay matching is
// unaffected by the size cap. JSON payloads are decoded and run through the
// redaction engine; other text is PII-scrubbed; binary data is stored
// base64-encoded without content redaction.
func SnapshotBody(data []byte, maxKB int) *cassette.BodySnapshot {
	if data == nil {
		return nil
	}

	snap := &cassette.BodySnapshot{
		Captured:  true,
		SizeBytes: len(data),
		Hash:      cassette.HashBody(data),
	}

	stored, truncated := TruncateBody(data, maxKB)
	snap.Truncated = truncated

	var decoded any
	switch {
	case json.Unmarshal(stored, &decoded) == nil:
		snap.Encoding = "json"
		snap.Data = RedactBody(decoded)
	case utf8.Valid(stored):
		snap.Encoding = "text"
		snap.Data = RedactPIIText(string(stored))
	default:
		snap.Encoding = "base64"
		snap.Data = base64.StdEncoding.EncodeToString(stored)
	}

	return snap
}

// UncapturedBody marks that a payload existed but policy kept it out of the
// cassette. The hash is still recorded so signatures stay constrained.
func UncapturedBody(data []byte) *cassette.BodySnapshot {
	if data == nil {
		return nil
	}
	return &cassette.BodySnapshot{
		Captured:  false,
		SizeBytes: len(data),
		Hash:      cassette.HashBody(data),
	}
}

// BodyBytes reconstructs the raw payload from a snapshot for replay.
// Returns nil when the body was never captured.
func BodyBytes(snap *cassette.BodySnapshot) []byte {
	if snap == nil || !snap.Captured || snap.Data == nil {
		return nil
	}
	switch snap.Encoding {
	case "base64":
		if s, ok := snap.Data.(string); ok {
			if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
				return raw
			}
		}
		return nil
	case "text":
		if s, ok := snap.Data.(string); ok {
			return []byte(s)
		}
		return nil
	default:
		raw, err := json.Marshal(snap.Data)
		if err != nil {
			return nil
		}
		return raw
	}
}
