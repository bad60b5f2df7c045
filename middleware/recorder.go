package middleware

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
)

// responseRecorder tees the handler's response so the tracer can snapshot
// status, headers, and body after the handler returns.
type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	wrote  bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseRecorder) WriteHeader(status int) {
	if !rw.wrote {
		rw.status = status
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseRecorder) Write(p []byte) (int, error) {
	rw.wrote = true
	rw.buf.Write(p)
	return rw.ResponseWriter.Write(p)
}

func (rw *responseRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so websocket upgrades keep working; hijacked
// connections are not captured.
func (rw *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseRecorder) body() []byte {
	if rw.buf.Len() == 0 {
		return nil
	}
	return rw.buf.Bytes()
}

// snapshot builds the response envelope with redacted headers. The body is
// attached by the caller, which owns the capture-policy decision.
func (rw *responseRecorder) snapshot(durationMS float64) *cassette.ResponseSnapshot {
	headers := make(map[string]string)
	for k := range rw.Header() {
		headers[k] = rw.Header().Get(k)
	}
	return &cassette.ResponseSnapshot{
		Status:     rw.status,
		Headers:    policy.RedactHeaders(headers),
		DurationMS: durationMS,
	}
}
