// Package httpclient intercepts outbound net/http calls. In record mode
// every request through the transport lands in the active session as an
// event; in replay mode matched requests are answered from the cassette
// without touching the network.
package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/replay"
	"github.com/retracehq/retrace/pkg/session"
)

// Tag identifies this interceptor in hybrid mock/live lists.
const Tag = "http"

const library = "net/http"

// maxCaptureBody caps how much of an HTTP body the interceptor buffers.
const maxCaptureBody = 10 << 20

// Transport is an http.RoundTripper that records or replays requests
// according to the session on the request context. With no active session it
// is a pure passthrough.
type Transport struct {
	// Base is the transport performing live calls. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// MaxBodyKB caps stored body size. 0 means 64.
	MaxBodyKB int
}

// NewTransport wraps base for use as an http.Client transport.
func NewTransport(base http.RoundTripper) *Transport {
	return &Transport{Base: base}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) maxKB() int {
	if t.MaxBodyKB > 0 {
		return t.MaxBodyKB
	}
	return 64
}

// RoundTrip dispatches on the session bound to the request context.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		return t.record(rec, req)
	}
	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		return t.replayFromCassette(rep, req)
	}
	return t.base().RoundTrip(req)
}

func (t *Transport) record(rec *session.Recorder, req *http.Request) (*http.Response, error) {
	reqBody := drainBody(req)
	sig := signatureFor(req, reqBody)

	start := time.Now()
	resp, err := t.base().RoundTrip(req)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)

	var result cassette.Result
	if err != nil {
		result = cassette.Result{
			Status: 0,
			Error:  &cassette.ErrorInfo{Type: "transport_error", Message: err.Error()},
		}
	} else {
		respBody := drainResponseBody(resp)
		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		result = cassette.Result{
			Status:  resp.StatusCode,
			Headers: policy.RedactHeadersAllowlist(headers),
			Body:    policy.SnapshotBody(respBody, t.maxKB()),
		}
	}

	if _, aerr := rec.AppendEvent(cassette.EventHTTPClient, sig, result, durationMS); aerr != nil {
		// The session closed mid-flight; the live result still stands.
		return resp, err
	}
	return resp, err
}

func (t *Transport) replayFromCassette(rep *session.Replayer, req *http.Request) (*http.Response, error) {
	reqBody := drainBody(req)
	sig := signatureFor(req, reqBody)

	ev, err := rep.Match(sig)
	if err != nil {
		if errors.Is(err, replay.ErrNoRecording) {
			// Non-strict fallthrough: perform the call live.
			if reqBody != nil {
				req.Body = io.NopCloser(bytes.NewReader(reqBody))
			}
			return t.base().RoundTrip(req)
		}
		return nil, err
	}

	if ev.Result.IsError() {
		return nil, replay.AsReplayedError(ev.Result.Error)
	}
	return synthesizeResponse(req, ev), nil
}

// signatureFor derives the replay signature: normalized URL, sorted query
// keys, and the request body hash.
func signatureFor(req *http.Request, body []byte) cassette.Signature {
	sig := cassette.NewSignature(library, req.Method, cassette.NormalizeURL(req.URL.String()))
	sig.Query = cassette.QueryFingerprint(req.URL.Query())
	if body != nil {
		sig.BodyHash = cassette.HashBody(body)
	}
	return sig
}

// synthesizeResponse rebuilds an *http.Response from a recorded event.
func synthesizeResponse(req *http.Request, ev *cassette.Event) *http.Response {
	body := policy.BodyBytes(ev.Result.Body)

	header := make(http.Header, len(ev.Result.Headers))
	for k, v := range ev.Result.Headers {
		header.Set(k, v)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", ev.Result.Status, http.StatusText(ev.Result.Status)),
		StatusCode:    ev.Result.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// drainBody buffers the outbound request body and restores it so the live
// call still sees the full stream.
func drainBody(req *http.Request) []byte {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxCaptureBody))
	req.Body.Close()
	if err != nil {
		req.Body = http.NoBody
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	if len(data) == 0 {
		return nil
	}
	return data
}

// drainResponseBody buffers the response body and replaces it so the caller
// can still read it in full.
func drainResponseBody(resp *http.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptureBody))
	resp.Body.Close()
	if err != nil {
		resp.Body = http.NoBody
		return nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if len(data) == 0 {
		return nil
	}
	return data
}
