// Package middleware wires retrace into an inbound HTTP server. In record
// mode it opens a recording session per request, captures the request and
// response envelopes, and persists a cassette at the end of the request. In
// replay mode it serves every traced request against one loaded cassette and
// reports how the live response diverges from the recorded one.
package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/diff"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/session"
	"github.com/retracehq/retrace/pkg/storage"
)

// maxRequestBody caps how much of an inbound request body the tracer will
// buffer for capture.
const maxRequestBody = 10 << 20

// Tracer is the HTTP middleware entry point. One Tracer serves all requests;
// per-request state lives in sessions bound to the request context.
type Tracer struct {
	cfg    *config.Config
	store  storage.Store
	logger *zap.Logger
	sink   session.Sink

	// replayCas is loaded once at construction in replay mode. The decoded
	// cassette is read-only; each request gets its own matcher cursor.
	replayCas *cassette.Cassette
}

// New builds a Tracer from validated config. In replay mode the cassette at
// cfg.CassettePath is loaded eagerly so a bad path fails at startup, not on
// the first request.
func New(cfg *config.Config, store storage.Store, logger *zap.Logger) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracer{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
	if store != nil {
		t.sink = storage.CassetteWriter{Store: store, Compression: cfg.Compression}
	}

	if cfg.Mode == config.ModeReplay {
		cas, err := storage.LoadCassette(context.Background(), store, cfg.CassettePath)
		if err != nil {
			return nil, fmt.Errorf("loading replay cassette %s: %w", cfg.CassettePath, err)
		}
		t.replayCas = cas
		logger.Info("replay cassette loaded",
			zap.String("key", cfg.CassettePath),
			zap.String("session_id", cas.Session.ID),
			zap.Int("events", len(cas.Events)),
		)
	}

	return t, nil
}

// Config returns the tracer's configuration.
func (t *Tracer) Config() *config.Config { return t.cfg }

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *zap.Logger { return t.logger }

// Sink returns the cassette sink, nil when no store is configured.
func (t *Tracer) Sink() session.Sink { return t.sink }

// ReplayCassette returns the loaded cassette in replay mode, nil otherwise.
func (t *Tracer) ReplayCassette() *cassette.Cassette { return t.replayCas }

// Handler wraps next with recording or replay according to the configured
// mode. Off mode and excluded paths pass through untouched.
func (t *Tracer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.cfg.Enabled() || !t.cfg.ShouldTrace(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		switch t.cfg.Mode {
		case config.ModeRecord:
			t.record(w, r, next)
		case config.ModeReplay:
			t.replay(w, r, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (t *Tracer) record(w http.ResponseWriter, r *http.Request, next http.Handler) {
	reqBody := drainRequestBody(r)
	reqSnap := snapshotRequest(r)

	rec := session.BeginRecording(reqSnap, session.Options{
		Service:           t.cfg.ServiceName,
		Env:               t.cfg.Env,
		SampleRate:        t.cfg.SampleRate,
		ErrorsOnly:        t.cfg.ErrorsOnly,
		MaxBodyKB:         t.cfg.MaxBodyKB,
		StoreRequestBody:  t.cfg.StoreRequestBody,
		StoreResponseBody: t.cfg.StoreResponseBody,
		Compression:       t.cfg.Compression,
		Sink:              t.sink,
		Logger:            t.logger,
	})
	if rec == nil {
		// Sampled out.
		next.ServeHTTP(w, r)
		return
	}

	ctx := session.WithSession(r.Context(), rec)
	rw := newResponseRecorder(w)

	defer func() {
		if v := recover(); v != nil {
			rec.MarkError("panic", fmt.Sprint(v), string(debug.Stack()))
			t.finalize(r, rec, reqBody, rw)
			panic(v)
		}
	}()

	next.ServeHTTP(rw, r.WithContext(ctx))
	t.finalize(r, rec, reqBody, rw)
}

// finalize attaches body snapshots per capture policy and closes the session.
// Body storage is decided here because the on_error policy needs the final
// status.
func (t *Tracer) finalize(r *http.Request, rec *session.Recorder, reqBody []byte, rw *responseRecorder) {
	// A cancelled request never produced a complete response envelope, so the
	// recording is discarded rather than written half-finished.
	if r.Context().Err() != nil {
		rec.Discard()
		t.logger.Debug("recording discarded, request context cancelled",
			zap.String("path", r.URL.Path),
		)
		return
	}

	resp := rw.snapshot(rec.ElapsedMS())
	isError := resp.Status >= 500
	respBody := rw.body()

	if policy.ShouldStoreBody(t.cfg.StoreRequestBody, isError) {
		rec.SetRequestBody(policy.SnapshotBody(reqBody, t.cfg.MaxBodyKB))
	} else {
		rec.SetRequestBody(policy.UncapturedBody(reqBody))
	}

	if policy.ShouldStoreBody(t.cfg.StoreResponseBody, isError) {
		resp.Body = policy.SnapshotBody(respBody, t.cfg.MaxBodyKB)
	} else {
		resp.Body = policy.UncapturedBody(respBody)
	}

	if _, _, err := rec.Finalize(r.Context(), resp); err != nil {
		t.logger.Error("finalize failed", zap.Error(err))
	}
}

func (t *Tracer) replay(w http.ResponseWriter, r *http.Request, next http.Handler) {
	rep := session.BeginReplaying(t.replayCas, session.ReplayOptions{
		Strict: t.cfg.StrictReplay,
		Hybrid: t.cfg.Hybrid(),
		Logger: t.logger,
	})

	ctx := session.WithSession(r.Context(), rep)
	rw := newResponseRecorder(w)
	start := time.Now()

	next.ServeHTTP(rw, r.WithContext(ctx))

	live := rw.snapshot(float64(time.Since(start)) / float64(time.Millisecond))
	if err := rep.Finalize(); err != nil {
		t.logger.Error("replay finalize failed", zap.Error(err))
	}

	d := diff.CompareResponses(t.replayCas.Response, *live)
	if d.StatusChanged {
		t.logger.Warn("replayed response diverged",
			zap.String("session_id", rep.ID()),
			zap.Int("recorded_status", d.OldStatus),
			zap.Int("live_status", d.NewStatus),
		)
	} else {
		t.logger.Debug("replayed response matched",
			zap.String("session_id", rep.ID()),
			zap.Int("status", live.Status),
		)
	}
}

// snapshotRequest captures the inbound envelope with headers and query
// values redacted. The body is attached later, at finalize.
func snapshotRequest(r *http.Request) *cassette.RequestSnapshot {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	var query map[string]string
	if qs := r.URL.Query(); len(qs) > 0 {
		query = make(map[string]string, len(qs))
		for k, vs := range qs {
			if len(vs) > 0 {
				query[k] = vs[0]
			}
		}
	}

	return &cassette.RequestSnapshot{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   policy.RedactHeaders(headers),
		Query:     policy.RedactQueryParams(query),
		ClientIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// drainRequestBody reads the request body so it can be captured, then
// replaces it so the handler still sees the full stream.
func drainRequestBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(data) == 0 {
		return nil
	}
	return data
}
