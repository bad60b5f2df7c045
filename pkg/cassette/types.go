// Package cassette defines the portable recording artifact and its codec.
//
// A cassette captures one inbound request, its response, and every outbound
// dependency call made while handling it, in completion order. The JSON wire
// layout is stable across language implementations; bump SchemaVersion when
// it changes.
package cassette

import "time"

// SchemaVersion is the cassette format version written by this codec.
const SchemaVersion = "1.0"

// SupportedSchemaVersions lists versions this codec can decode.
// Older versions are migrated forward on read.
var SupportedSchemaVersions = []string{"0.1", SchemaVersion}

// Compression selects the container encoding for an encoded cassette.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

// Event type tags. Interceptors use these so cassettes stay consistent
// regardless of which client library produced the call.
const (
	EventHTTPClient = "http.client"
	EventDBQuery    = "db.query"
	EventCacheOp    = "redis"
	EventCustom     = "custom"
)

// BodySnapshot is a captured payload with capture metadata. Data may be
// absent (not captured), truncated, or redacted; Hash is computed over the
// pre-truncation bytes so replay matching survives truncation.
type BodySnapshot struct {
	Captured  bool   `json:"_captured"`
	Encoding  string `json:"encoding,omitempty"` // "json", "text", or "base64"
	Data      any    `json:"data,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	SizeBytes int    `json:"size_bytes,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

// RequestSnapshot is the inbound request envelope.
type RequestSnapshot struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	RouteTemplate string            `json:"route_template,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Query         map[string]string `json:"query,omitempty"`
	Body          *BodySnapshot     `json:"body,omitempty"`
	ClientIP      string            `json:"client_ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
}

// ResponseSnapshot is the outbound response envelope.
type ResponseSnapshot struct {
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       *BodySnapshot     `json:"body,omitempty"`
	DurationMS float64           `json:"duration_ms"`
}

// Signature identifies a dependency call for replay matching.
//
// Two calls with equal (Library, Operation, Target, Query, BodyHash) are
// equivalent. Query holds normalized parameter or filter key names, never
// values, so matching stays stable across volatile values such as
// timestamps. An empty Query or BodyHash means "unconstrained" on that axis.
type Signature struct {
	Library   string   `json:"lib"`
	Operation string   `json:"method"`
	Target    string   `json:"url,omitempty"`
	Query     []string `json:"query,omitempty"`
	BodyHash  string   `json:"body_hash,omitempty"`
}

// ErrorInfo is a structured failure captured from the handler or from a
// dependency call.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Result is the outcome of a dependency call. Exactly one of Body or Error
// is meaningfully populated; Status always reflects which.
type Result struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *BodySnapshot     `json:"body,omitempty"`
	Error   *ErrorInfo        `json:"error,omitempty"`
}

// IsError reports whether the result captured a failed call.
func (r Result) IsError() bool {
	return r.Error != nil
}

// Event is one completed dependency call. EID values are strictly increasing
// within a session and define the canonical replay order; events are
// appended in completion order, not start order.
type Event struct {
	EID           int       `json:"eid"`
	Type          string    `json:"type"`
	StartOffsetMS float64   `json:"start_offset_ms"`
	DurationMS    float64   `json:"duration_ms"`
	Signature     Signature `json:"signature"`
	Result        Result    `json:"result"`
}

// SessionMeta describes the recording session that produced a cassette.
type SessionMeta struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Service    string    `json:"service"`
	Env        string    `json:"env"`
	Version    string    `json:"retrace_version,omitempty"`
}

// AppliedPolicies records the capture configuration in effect when the
// cassette was written, for later inspection.
type AppliedPolicies struct {
	RedactionMode     string  `json:"redaction_mode"`
	MaxBodyKB         int     `json:"max_body_kb"`
	StoreRequestBody  string  `json:"store_request_body"`
	StoreResponseBody string  `json:"store_response_body"`
	SampleRate        float64 `json:"sample_rate"`
	ErrorsOnly        bool    `json:"errors_only"`
}

// CaptureStats summarizes what a cassette holds.
type CaptureStats struct {
	EventCounts     map[string]int `json:"event_counts,omitempty"`
	TotalEvents     int            `json:"total_events"`
	TotalDurationMS float64        `json:"total_duration_ms"`
}

// Cassette is the durable, portable artifact: one request, its response,
// and the ordered dependency events recorded while handling it.
type Cassette struct {
	SchemaVersion string           `json:"schema_version"`
	Session       SessionMeta      `json:"session"`
	Request       RequestSnapshot  `json:"request"`
	Response      ResponseSnapshot `json:"response"`
	ErrorInfo     *ErrorInfo       `json:"error_info,omitempty"`
	Events        []Event          `json:"events"`
	Policies      *AppliedPolicies `json:"policies,omitempty"`
	Stats         *CaptureStats    `json:"stats,omitempty"`
}

// ComputeStats rebuilds the cassette's capture statistics from its events.
func (c *Cassette) ComputeStats() {
	counts := make(map[string]int, 4)
	for _, ev := range c.Events {
		counts[ev.Type]++
	}
	c.Stats = &CaptureStats{
		EventCounts:     counts,
		TotalEvents:     len(c.Events),
		TotalDurationMS: c.Response.DurationMS,
	}
}
